package securemem

import (
	"os"
	"syscall"

	"github.com/awnumar/memguard"
)

// Init wipes protected memory when the process is interrupted or
// terminated. onSignal, if set, runs first; the process exits afterwards.
// Call once from main.
func Init(onSignal func(os.Signal)) {
	memguard.CatchSignal(func(sig os.Signal) {
		if onSignal != nil {
			onSignal(sig)
		}
	}, os.Interrupt, syscall.SIGTERM)
}

// Cleanup purges every memguard buffer. Call before exiting.
func Cleanup() {
	memguard.Purge()
}
