package domain

import (
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"time"
)

// RconPortOffset is added to the game port to derive the host-side RCON port,
// so two instances never fight over the same admin port.
const RconPortOffset = 10

type State string

const (
	StateStopped      State = "stopped"
	StatePulling      State = "pulling"
	StateStarting     State = "starting"
	StateInitializing State = "initializing"
	StateRunning      State = "running"
	StateStopping     State = "stopping"
	StateError        State = "error"
)

// Transitional reports whether the state is a non-terminal phase during which
// further mutating intents for the same instance must be refused.
func (s State) Transitional() bool {
	switch s {
	case StatePulling, StateStarting, StateInitializing, StateStopping:
		return true
	}
	return false
}

type Loader string

const (
	LoaderVanilla  Loader = "vanilla"
	LoaderForge    Loader = "forge"
	LoaderFabric   Loader = "fabric"
	LoaderNeoForge Loader = "neoforge"
)

type Difficulty string

const (
	DifficultyPeaceful Difficulty = "peaceful"
	DifficultyEasy     Difficulty = "easy"
	DifficultyNormal   Difficulty = "normal"
	DifficultyHard     Difficulty = "hard"
)

type GameMode string

const (
	GameModeSurvival  GameMode = "survival"
	GameModeCreative  GameMode = "creative"
	GameModeAdventure GameMode = "adventure"
	GameModeSpectator GameMode = "spectator"
)

type ServerProperties struct {
	MOTD       string     `json:"motd" yaml:"motd"`
	MaxPlayers int        `json:"max_players" yaml:"max_players"`
	Difficulty Difficulty `json:"difficulty" yaml:"difficulty"`
	GameMode   GameMode   `json:"game_mode" yaml:"game_mode"`
	PVP        bool       `json:"pvp" yaml:"pvp"`
	OnlineMode bool       `json:"online_mode" yaml:"online_mode"`
	Whitelist  bool       `json:"whitelist" yaml:"whitelist"`
}

func DefaultServerProperties() ServerProperties {
	return ServerProperties{
		MaxPlayers: 20,
		Difficulty: DifficultyNormal,
		GameMode:   GameModeSurvival,
		PVP:        true,
		OnlineMode: true,
	}
}

// PackSourceKind discriminates the closed set of installation sources.
type PackSourceKind string

const (
	SourceCurseForge PackSourceKind = "curseforge"
	SourceFtb        PackSourceKind = "ftb"
	SourceModrinth   PackSourceKind = "modrinth"
	SourceDirectURL  PackSourceKind = "direct_url"
	SourceLocal      PackSourceKind = "local"
)

// PackSource is a tagged variant: exactly the fields for Kind are set.
type PackSource struct {
	Kind PackSourceKind `json:"kind" yaml:"kind"`

	// curseforge
	Slug   string `json:"slug,omitempty" yaml:"slug,omitempty"`
	FileID int64  `json:"file_id,omitempty" yaml:"file_id,omitempty"`

	// ftb
	PackID    int64 `json:"pack_id,omitempty" yaml:"pack_id,omitempty"`
	VersionID int64 `json:"version_id,omitempty" yaml:"version_id,omitempty"`

	// modrinth
	ProjectID        string `json:"project_id,omitempty" yaml:"project_id,omitempty"`
	ProjectVersionID string `json:"project_version_id,omitempty" yaml:"project_version_id,omitempty"`

	// direct_url
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// local (relative to the instance data directory)
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

type Pack struct {
	Name             string     `json:"name" yaml:"name"`
	Version          string     `json:"version" yaml:"version"`
	MinecraftVersion string     `json:"minecraft_version" yaml:"minecraft_version"`
	Loader           Loader     `json:"loader" yaml:"loader"`
	Source           PackSource `json:"source" yaml:"source"`
}

// InstanceConfig is the persisted record for one managed server instance.
// Name is the join key to the container runtime and the filesystem layout.
type InstanceConfig struct {
	Name         string           `json:"name" yaml:"name"`
	Port         int              `json:"port" yaml:"port"`
	MemoryMB     int64            `json:"memory_mb" yaml:"memory_mb"`
	JavaVersion  int              `json:"java_version" yaml:"java_version"`
	JavaArgs     []string         `json:"java_args,omitempty" yaml:"java_args,omitempty"`
	ExtraEnv     []string         `json:"extra_env,omitempty" yaml:"extra_env,omitempty"`
	Properties   ServerProperties `json:"properties" yaml:"properties"`
	Pack         Pack             `json:"pack" yaml:"pack"`
	RconPassword string           `json:"rcon_password" yaml:"rcon_password"`

	// ContainerID is the last known container id. It is a hint only; the
	// runtime can be mutated out of band, so it is never trusted as a
	// source of truth.
	ContainerID string `json:"container_id,omitempty" yaml:"container_id,omitempty"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

func NewInstanceConfig(name string, pack Pack) *InstanceConfig {
	now := time.Now()
	return &InstanceConfig{
		Name:         name,
		Port:         25565,
		MemoryMB:     4096,
		JavaVersion:  21,
		Properties:   DefaultServerProperties(),
		Pack:         pack,
		RconPassword: GeneratePassphrase(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// RconPort derives the administration port from the game port.
func (c *InstanceConfig) RconPort() int {
	return c.Port + RconPortOffset
}

// Image selects the server image tag from the configured Java version.
func (c *InstanceConfig) Image() string {
	switch c.JavaVersion {
	case 8:
		return "itzg/minecraft-server:java8"
	case 11:
		return "itzg/minecraft-server:java11"
	case 17:
		return "itzg/minecraft-server:java17"
	case 21:
		return "itzg/minecraft-server:java21"
	default:
		return "itzg/minecraft-server:latest"
	}
}

// EnvVars builds the container environment for the itzg/minecraft-server
// image from the instance configuration.
func (c *InstanceConfig) EnvVars() []string {
	env := []string{
		"EULA=TRUE",
		fmt.Sprintf("MEMORY=%dM", c.MemoryMB),
	}

	switch c.Pack.Source.Kind {
	case SourceCurseForge:
		env = append(env, "TYPE=AUTO_CURSEFORGE")
		env = append(env, fmt.Sprintf("CF_SLUG=%s", c.Pack.Source.Slug))
		if c.Pack.Source.FileID != 0 {
			env = append(env, fmt.Sprintf("CF_FILE_ID=%d", c.Pack.Source.FileID))
		}
	case SourceFtb:
		env = append(env, "TYPE=FTBA")
		env = append(env, fmt.Sprintf("FTB_MODPACK_ID=%d", c.Pack.Source.PackID))
		if c.Pack.Source.VersionID != 0 {
			env = append(env, fmt.Sprintf("FTB_MODPACK_VERSION_ID=%d", c.Pack.Source.VersionID))
		}
	case SourceModrinth:
		env = append(env, "TYPE=MODRINTH")
		env = append(env, fmt.Sprintf("MODRINTH_PROJECT=%s", c.Pack.Source.ProjectID))
		env = append(env, fmt.Sprintf("MODRINTH_VERSION=%s", c.Pack.Source.ProjectVersionID))
	case SourceDirectURL:
		env = append(env, fmt.Sprintf("TYPE=%s", loaderType(c.Pack.Loader)))
		if c.Pack.Source.URL != "" {
			env = append(env, fmt.Sprintf("MODPACK=%s", c.Pack.Source.URL))
		}
	case SourceLocal:
		env = append(env, fmt.Sprintf("TYPE=%s", loaderType(c.Pack.Loader)))
		env = append(env, fmt.Sprintf("MODPACK=/data/%s", c.Pack.Source.Path))
	}

	if c.Pack.MinecraftVersion != "" {
		env = append(env, fmt.Sprintf("VERSION=%s", c.Pack.MinecraftVersion))
	}
	if len(c.JavaArgs) > 0 {
		env = append(env, fmt.Sprintf("JVM_OPTS=%s", strings.Join(c.JavaArgs, " ")))
	}

	env = append(env, "ENABLE_RCON=true")
	env = append(env, fmt.Sprintf("RCON_PASSWORD=%s", c.RconPassword))

	p := c.Properties
	if p.MOTD != "" {
		env = append(env, fmt.Sprintf("MOTD=%s", p.MOTD))
	}
	env = append(env, fmt.Sprintf("DIFFICULTY=%s", p.Difficulty))
	env = append(env, fmt.Sprintf("MODE=%s", p.GameMode))
	env = append(env, fmt.Sprintf("MAX_PLAYERS=%d", p.MaxPlayers))
	env = append(env, fmt.Sprintf("PVP=%t", p.PVP))
	env = append(env, fmt.Sprintf("ONLINE_MODE=%t", p.OnlineMode))
	env = append(env, fmt.Sprintf("ENABLE_WHITELIST=%t", p.Whitelist))

	env = append(env, c.ExtraEnv...)

	return env
}

// LaunchFieldsChanged reports whether the difference between c and next
// affects the container's launch parameters, forcing recreation: a created
// container's ports, memory, or environment cannot be mutated in place.
func (c *InstanceConfig) LaunchFieldsChanged(next *InstanceConfig) bool {
	if c.Port != next.Port || c.MemoryMB != next.MemoryMB || c.JavaVersion != next.JavaVersion {
		return true
	}
	if strings.Join(c.JavaArgs, " ") != strings.Join(next.JavaArgs, " ") {
		return true
	}
	if strings.Join(c.ExtraEnv, "\x00") != strings.Join(next.ExtraEnv, "\x00") {
		return true
	}
	if c.Properties != next.Properties {
		return true
	}
	if c.Pack.Source != next.Pack.Source || c.Pack.MinecraftVersion != next.Pack.MinecraftVersion {
		return true
	}
	return c.RconPassword != next.RconPassword
}

func loaderType(l Loader) string {
	switch l {
	case LoaderForge:
		return "FORGE"
	case LoaderFabric:
		return "FABRIC"
	case LoaderNeoForge:
		return "NEOFORGE"
	default:
		return "VANILLA"
	}
}

var nameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,31}$`)

// ValidateName checks that name is usable both as a container name suffix
// and as a filesystem path segment.
func ValidateName(name string) error {
	if !nameRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Validate checks the configuration before any side effect.
func (c *InstanceConfig) Validate() error {
	if err := ValidateName(c.Name); err != nil {
		return err
	}
	if c.Port < 1024 || c.Port > 65535-RconPortOffset {
		return fmt.Errorf("%w: port %d", ErrInvalidConfig, c.Port)
	}
	if c.MemoryMB < 512 {
		return fmt.Errorf("%w: memory %dMB too low", ErrInvalidConfig, c.MemoryMB)
	}
	return nil
}

var passphraseWords = []string{
	"creeper", "diamond", "redstone", "enderman", "nether", "obsidian",
	"pickaxe", "zombie", "skeleton", "spider", "blaze", "ghast",
	"emerald", "villager", "golem", "beacon", "enchant", "potion",
	"anvil", "furnace", "chest", "portal", "dragon", "wither",
	"trident", "elytra", "shulker", "phantom", "copper", "amethyst",
	"deepslate", "warden", "sculk", "allay",
}

// GeneratePassphrase returns a memorable 4-word RCON password.
func GeneratePassphrase() string {
	picked := make([]string, 4)
	perm := rand.Perm(len(passphraseWords))
	for i := range picked {
		picked[i] = passphraseWords[perm[i]]
	}
	return strings.Join(picked, "-")
}
