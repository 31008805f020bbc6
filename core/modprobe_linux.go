package core

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

var loadedModules sync.Map // module name -> *sync.Once

// prepareVsockTransport makes sure the AF_VSOCK transport is available.
// Each module is tried at most once per process; failures are not fatal.
func prepareVsockTransport(module string) {
	once, _ := loadedModules.LoadOrStore(module, new(sync.Once))

	once.(*sync.Once).Do(func() {
		device := "/dev/vsock"
		if module == hostTransportModule {
			device = "/dev/vhost-vsock"
		}

		if _, err := os.Stat(device); err == nil {
			return
		}

		log.Debugf("Trying to load the vsock transport module %s", module)

		if err := LoadVSockModule(module); err != nil {
			log.Warnf("Non-fatal error: %s", err)
		}
	})
}

func LoadVSockModule(module string) error {
	_, err := exec.Command("modprobe", module).CombinedOutput()
	if err != nil {
		return fmt.Errorf("could not load vsock module %s: modprobe failed with %s", module, err)
	}

	time.Sleep(time.Second)

	return nil
}
