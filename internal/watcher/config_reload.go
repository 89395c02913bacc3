// config_reload.go implements debounced configuration hot reload.
// It detects material changes and invokes the reload callback when the
// config file content actually changed.
package watcher

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/leok974/ApplyLens-sub016/internal/config"
)

func (w *Watcher) scheduleConfigReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.reloadTimer != nil {
		w.reloadTimer.Stop()
	}
	w.reloadTimer = time.AfterFunc(configReloadDebounce, func() {
		w.mu.Lock()
		w.reloadTimer = nil
		w.mu.Unlock()
		w.reloadConfigIfChanged()
	})
}

func (w *Watcher) reloadConfigIfChanged() {
	data, err := os.ReadFile(w.configPath)
	if err != nil {
		log.Errorf("failed to read config file for hash check: %v", err)
		return
	}
	if len(data) == 0 {
		log.Debugf("ignoring empty config file write event")
		return
	}
	newHash := hashConfig(data)

	w.mu.Lock()
	currentHash := w.lastConfigHash
	w.mu.Unlock()

	if currentHash != "" && currentHash == newHash {
		log.Debugf("config file content unchanged (hash match), skipping reload")
		return
	}

	log.Infof("config file changed, reloading: %s", w.configPath)
	newConfig, errLoadConfig := config.LoadConfig(w.configPath)
	if errLoadConfig != nil {
		// Keep running on the previous config until a valid one lands.
		log.Errorf("failed to reload config: %v", errLoadConfig)
		return
	}

	w.mu.Lock()
	w.lastConfigHash = newHash
	w.mu.Unlock()

	if w.reloadCallback != nil {
		w.reloadCallback(newConfig)
	}
}

// HashConfig returns the hex SHA-256 digest used for change detection.
func HashConfig(data []byte) string {
	return hashConfig(data)
}

func hashConfig(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
