package domain

// PackTemplate is a built-in, ready-to-create pack description.
type PackTemplate struct {
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	Pack              Pack     `json:"pack"`
	RecommendedMemory int64    `json:"recommended_memory_mb"`
	JavaVersion       int      `json:"java_version"`
	DefaultJavaArgs   []string `json:"default_java_args,omitempty"`
	DefaultExtraEnv   []string `json:"default_extra_env,omitempty"`
}

// aikar's flags, the usual baseline for modded servers
var moddedJavaArgs = []string{
	"-XX:+UseG1GC",
	"-XX:+ParallelRefProcEnabled",
	"-XX:MaxGCPauseMillis=200",
}

func BuiltinTemplates() []PackTemplate {
	return []PackTemplate{
		{
			Name:        "Vanilla",
			Description: "Plain Minecraft server, latest release",
			Pack: Pack{
				Name:    "Vanilla",
				Version: "latest",
				Loader:  LoaderVanilla,
				Source:  PackSource{Kind: SourceDirectURL, URL: ""},
			},
			RecommendedMemory: 2048,
			JavaVersion:       21,
		},
		{
			Name:        "All The Mods 9",
			Description: "A massive kitchen-sink modpack",
			Pack: Pack{
				Name:             "All The Mods 9",
				Version:          "0.2.0",
				MinecraftVersion: "1.20.1",
				Loader:           LoaderNeoForge,
				Source:           PackSource{Kind: SourceCurseForge, Slug: "all-the-mods-9"},
			},
			RecommendedMemory: 8192,
			JavaVersion:       17,
			DefaultJavaArgs:   moddedJavaArgs,
		},
		{
			Name:        "FTB StoneBlock 4",
			Description: "Skyblock-style pack where you start in a world of stone",
			Pack: Pack{
				Name:             "FTB StoneBlock 4",
				Version:          "1.0.0",
				MinecraftVersion: "1.20.1",
				Loader:           LoaderNeoForge,
				Source:           PackSource{Kind: SourceFtb, PackID: 116},
			},
			RecommendedMemory: 6144,
			JavaVersion:       17,
			DefaultJavaArgs:   moddedJavaArgs,
		},
	}
}

// FromTemplate builds a fresh instance configuration seeded by a template.
func FromTemplate(name string, t PackTemplate) *InstanceConfig {
	cfg := NewInstanceConfig(name, t.Pack)
	cfg.MemoryMB = t.RecommendedMemory
	cfg.JavaVersion = t.JavaVersion
	cfg.JavaArgs = append([]string(nil), t.DefaultJavaArgs...)
	cfg.ExtraEnv = append([]string(nil), t.DefaultExtraEnv...)
	return cfg
}
