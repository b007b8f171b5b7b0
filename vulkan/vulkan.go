// Package vulkan is the Vulkan 1.2 backend of the compositor. It creates
// exportable images and timeline semaphores, imports them in the peer
// process through external memory and semaphore handles, and records the
// parent's scene and composite passes and the child's offscreen pass.
package vulkan

// #cgo windows LDFLAGS: -lvulkan-1
// #cgo linux LDFLAGS: -lvulkan
// #cgo darwin LDFLAGS: -framework MoltenVK
// #include <vulkan/vulkan.h>
import "C"
import (
	"fmt"

	"render-compositor/gpu"
	"render-compositor/handle"
)

const (
	VulkanVersion11 = C.VK_API_VERSION_1_1
	VulkanVersion12 = C.VK_API_VERSION_1_2
)

// Result is a failed VkResult.
type Result int32

const (
	ErrorOutOfHostMemory    Result = C.VK_ERROR_OUT_OF_HOST_MEMORY
	ErrorOutOfDeviceMemory  Result = C.VK_ERROR_OUT_OF_DEVICE_MEMORY
	ErrorInitializationFail Result = C.VK_ERROR_INITIALIZATION_FAILED
	ErrorDeviceLost         Result = C.VK_ERROR_DEVICE_LOST
	ErrorExtensionNotFound  Result = C.VK_ERROR_EXTENSION_NOT_PRESENT
	ErrorFeatureNotPresent  Result = C.VK_ERROR_FEATURE_NOT_PRESENT
	ErrorInvalidExternal    Result = C.VK_ERROR_INVALID_EXTERNAL_HANDLE
	ErrorOutOfDate          Result = C.VK_ERROR_OUT_OF_DATE_KHR
	Timeout                 Result = C.VK_TIMEOUT
	Suboptimal              Result = C.VK_SUBOPTIMAL_KHR
)

func (r Result) Error() string {
	switch r {
	case ErrorOutOfHostMemory:
		return "VK_ERROR_OUT_OF_HOST_MEMORY"
	case ErrorOutOfDeviceMemory:
		return "VK_ERROR_OUT_OF_DEVICE_MEMORY"
	case ErrorInitializationFail:
		return "VK_ERROR_INITIALIZATION_FAILED"
	case ErrorDeviceLost:
		return "VK_ERROR_DEVICE_LOST"
	case ErrorExtensionNotFound:
		return "VK_ERROR_EXTENSION_NOT_PRESENT"
	case ErrorFeatureNotPresent:
		return "VK_ERROR_FEATURE_NOT_PRESENT"
	case ErrorInvalidExternal:
		return "VK_ERROR_INVALID_EXTERNAL_HANDLE"
	case ErrorOutOfDate:
		return "VK_ERROR_OUT_OF_DATE_KHR"
	case Timeout:
		return "VK_TIMEOUT"
	case Suboptimal:
		return "VK_SUBOPTIMAL_KHR"
	}
	return fmt.Sprintf("VkResult(%d)", int32(r))
}

// Is lets callers match driver failures against the gpu error classes.
func (r Result) Is(target error) bool {
	switch target {
	case gpu.ErrDeviceLost:
		return r == ErrorDeviceLost
	case gpu.ErrMissingFeature:
		return r == ErrorExtensionNotFound || r == ErrorFeatureNotPresent
	case gpu.ErrWaitTimeout:
		return r == Timeout
	case handle.ErrImportParameterMismatch:
		return r == ErrorInvalidExternal
	}
	return false
}

func check(res C.VkResult, what string) error {
	if res == C.VK_SUCCESS {
		return nil
	}
	return fmt.Errorf("failed to %s: %w", what, Result(res))
}

// submitError classifies a failed submission: a lost device stays fatal,
// anything else is reported as transient.
func submitError(res C.VkResult, what string) error {
	if res == C.VK_SUCCESS {
		return nil
	}
	if Result(res) == ErrorDeviceLost {
		return fmt.Errorf("failed to %s: %w", what, Result(res))
	}
	return fmt.Errorf("failed to %s: %w: %w", what, gpu.ErrSubmissionFailed, Result(res))
}

func VK_MAKE_VERSION(major, minor, patch uint32) uint32 {
	return (major << 22) | (minor << 12) | patch
}
