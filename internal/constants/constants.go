package constants

import "time"

// File names
const (
	ConfigFileName   = "config.yaml"
	SettingsFileName = "launcher"
	StateFileName    = "launcher-state.jsonc"
	EngineExecName   = "mihomo"
)

// Directory names
const (
	BinDirName  = "bin"
	LogsDirName = "logs"
)

// Log file names
const (
	MainLogFileName  = "mihomo-launcher.log"
	ChildLogFileName = "mihomo.log"
)

// Process names for checking
const (
	EngineProcessNameWindows = "mihomo.exe"
	EngineProcessNameUnix    = "mihomo"
)

// Controller and probing defaults
const (
	DefaultController      = "127.0.0.1:9090"
	DefaultDelayTestURL    = "http://www.gstatic.com/generate_204"
	DefaultDelayTimeout    = 5000 * time.Millisecond
	DefaultRefreshInterval = 10 * time.Second
	DefaultAutoRefresh     = true
	DefaultSTUNServer      = "stun.l.google.com:19302"
	SubscriptionUserAgent  = "clash.meta"
)

// Application version
// Can be overridden at build time using -ldflags="-X mihomo-launcher/internal/constants.AppVersion=..."
var (
	AppVersion = "v0.1.0"
)

// AppID is the fyne application id; preferences are stored under it.
const AppID = "com.mihomo.launcher"
