package vulkan

/*
#include <vulkan/vulkan.h>
*/
import "C"
import (
	"fmt"
	"unsafe"
)

// Window is the presenting window as the renderer needs it. core.Window
// implements it on GLFW.
type Window interface {
	GetRequiredInstanceExtensions() []string
	// CreateWindowSurface receives the VkInstance as an unsafe.Pointer and
	// returns the VkSurfaceKHR.
	CreateWindowSurface(instance interface{}) (uintptr, error)
	GetFramebufferSize() (int, int)
}

func createSurface(instance *Instance, window Window) (C.VkSurfaceKHR, error) {
	raw, err := window.CreateWindowSurface(unsafe.Pointer(instance.Handle))
	if err != nil {
		return nil, fmt.Errorf("failed to create window surface: %w", err)
	}
	return C.VkSurfaceKHR(unsafe.Pointer(raw)), nil
}
