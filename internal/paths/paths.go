package paths

import (
	"os"
	"path/filepath"
	goruntime "runtime"
	"sync"
)

const appName = "AutoClipper"

// Runtime holds the resolved filesystem layout for the service. The struct is
// immutable after Ensure returns it; callers must not mutate fields.
type Runtime struct {
	Root         string
	LogsDir      string
	StorageDir   string
	DownloadsDir string
	ClipsDir     string
	ModelsDir    string
	TempDir      string
	SecretsDir   string
	ConfigPath   string
	DatabasePath string
	LogFilePath  string
}

var (
	once    sync.Once
	rt      *Runtime
	onceErr error
)

// Root returns the application data root. AUTOCLIPPER_APPDATA overrides the
// OS default ($APPDATA on Windows, ~/.config elsewhere).
func Root() string {
	if override := os.Getenv("AUTOCLIPPER_APPDATA"); override != "" {
		return override
	}
	home, _ := os.UserHomeDir()
	if goruntime.GOOS == "windows" {
		if appdata := os.Getenv("APPDATA"); appdata != "" {
			return filepath.Join(appdata, appName)
		}
		return filepath.Join(home, "AppData", "Roaming", appName)
	}
	return filepath.Join(home, ".config", appName)
}

// Ensure resolves the runtime layout, creates every directory, and returns a
// process-wide singleton. Subsequent calls return the first result.
func Ensure() (*Runtime, error) {
	once.Do(func() {
		root := Root()
		r := &Runtime{
			Root:         root,
			LogsDir:      filepath.Join(root, "logs"),
			StorageDir:   filepath.Join(root, "storage"),
			DownloadsDir: filepath.Join(root, "storage", "downloads"),
			ClipsDir:     filepath.Join(root, "storage", "clips"),
			ModelsDir:    filepath.Join(root, "storage", "models"),
			TempDir:      filepath.Join(root, "storage", "temp"),
			SecretsDir:   filepath.Join(root, "secrets"),
			ConfigPath:   filepath.Join(root, "config.json"),
			DatabasePath: filepath.Join(root, "database.db"),
		}
		r.LogFilePath = filepath.Join(r.LogsDir, "app.log")
		for _, dir := range []string{r.Root, r.LogsDir, r.StorageDir, r.DownloadsDir, r.ClipsDir, r.ModelsDir, r.TempDir, r.SecretsDir} {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				onceErr = err
				return
			}
		}
		rt = r
	})
	return rt, onceErr
}
