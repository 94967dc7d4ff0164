//go:build js && wasm

package lockfile

// processRunning always reports false in WASM (single-process environment).
func processRunning(pid int) bool {
	return false
}
