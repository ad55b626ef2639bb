package env

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// EnvDotEnvPath points at an explicit .env file and disables the upward search.
const EnvDotEnvPath = "DOTENV_PATH"

var (
	loadOnce   sync.Once
	loadedPath string
	loadErr    error
)

// Ensure loads $DOTENV_PATH, or else the first .env found walking up from the
// working directory. Variables already set in the process win. Only the first
// call does any work; under go test nothing is loaded unless
// GOTEST_LOAD_DOTENV=1.
func Ensure() error {
	if runningUnderGoTest() && os.Getenv("GOTEST_LOAD_DOTENV") != "1" {
		return nil
	}
	loadOnce.Do(func() {
		path, err := resolveDotEnv()
		if err != nil {
			loadErr = err
			log.Debug().Err(err).Msg("uploader: locate .env failed")
			return
		}
		if path == "" {
			return
		}
		if err := godotenv.Load(path); err != nil {
			loadErr = err
			log.Warn().Err(err).Str("dotenv", path).Msg("uploader: load .env failed")
			return
		}
		loadedPath = path
		log.Debug().Str("dotenv", path).Msg("uploader: loaded .env")
	})
	return loadErr
}

// LoadedPath returns the .env file Ensure loaded, or "".
func LoadedPath() string {
	return loadedPath
}

func runningUnderGoTest() bool {
	if strings.HasSuffix(os.Args[0], ".test") {
		return true
	}
	for _, arg := range os.Args[1:] {
		if strings.HasPrefix(arg, "-test.") {
			return true
		}
	}
	return false
}

func resolveDotEnv() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv(EnvDotEnvPath)); explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", err
		}
		return explicit, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return searchUpward(wd, ".env")
}

// searchUpward returns the first regular file called name in dir or one of
// its parents.
func searchUpward(dir, name string) (string, error) {
	for {
		candidate := filepath.Join(dir, name)
		info, err := os.Stat(candidate)
		switch {
		case err == nil && !info.IsDir():
			return candidate, nil
		case err != nil && !errors.Is(err, os.ErrNotExist):
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}
