package vulkan

/*
#include <vulkan/vulkan.h>
#include <stdint.h>
#include <stdlib.h>

typedef struct {
    VkSurfaceCapabilitiesKHR capabilities;
    VkSurfaceFormatKHR* formats;
    uint32_t formatCount;
    VkPresentModeKHR* presentModes;
    uint32_t presentModeCount;
} SwapChainSupportDetails;

void querySwapChainSupport(VkPhysicalDevice device, VkSurfaceKHR surface, SwapChainSupportDetails* details) {
    vkGetPhysicalDeviceSurfaceCapabilitiesKHR(device, surface, &details->capabilities);

    vkGetPhysicalDeviceSurfaceFormatsKHR(device, surface, &details->formatCount, NULL);
    if (details->formatCount != 0) {
        details->formats = (VkSurfaceFormatKHR*)malloc(details->formatCount * sizeof(VkSurfaceFormatKHR));
        vkGetPhysicalDeviceSurfaceFormatsKHR(device, surface, &details->formatCount, details->formats);
    }

    vkGetPhysicalDeviceSurfacePresentModesKHR(device, surface, &details->presentModeCount, NULL);
    if (details->presentModeCount != 0) {
        details->presentModes = (VkPresentModeKHR*)malloc(details->presentModeCount * sizeof(VkPresentModeKHR));
        vkGetPhysicalDeviceSurfacePresentModesKHR(device, surface, &details->presentModeCount, details->presentModes);
    }
}

void freeSwapChainSupportDetails(SwapChainSupportDetails* details) {
    free(details->formats);
    free(details->presentModes);
}

// The child's color attachment is UNORM; a UNORM swapchain keeps the blit
// a plain copy.
VkSurfaceFormatKHR chooseSwapSurfaceFormat(const VkSurfaceFormatKHR* availableFormats, uint32_t count) {
    for (uint32_t i = 0; i < count; i++) {
        if (availableFormats[i].format == VK_FORMAT_B8G8R8A8_UNORM &&
            availableFormats[i].colorSpace == VK_COLOR_SPACE_SRGB_NONLINEAR_KHR) {
            return availableFormats[i];
        }
    }
    return availableFormats[0];
}

VkPresentModeKHR chooseSwapPresentMode(const VkPresentModeKHR* availablePresentModes, uint32_t count) {
    for (uint32_t i = 0; i < count; i++) {
        if (availablePresentModes[i] == VK_PRESENT_MODE_MAILBOX_KHR) {
            return availablePresentModes[i];
        }
    }
    return VK_PRESENT_MODE_FIFO_KHR;
}

VkExtent2D chooseSwapExtent(const VkSurfaceCapabilitiesKHR* capabilities, uint32_t width, uint32_t height) {
    if (capabilities->currentExtent.width != UINT32_MAX) {
        return capabilities->currentExtent;
    } else {
        VkExtent2D actualExtent = {width, height};
    
        if (actualExtent.width < capabilities->minImageExtent.width) {
            actualExtent.width = capabilities->minImageExtent.width;
        } else if (actualExtent.width > capabilities->maxImageExtent.width) {
            actualExtent.width = capabilities->maxImageExtent.width;
        }
    
        if (actualExtent.height < capabilities->minImageExtent.height) {
            actualExtent.height = capabilities->minImageExtent.height;
        } else if (actualExtent.height > capabilities->maxImageExtent.height) {
            actualExtent.height = capabilities->maxImageExtent.height;
        }
    
        return actualExtent;
    }
}
VkResult presentImage(VkQueue queue, VkSwapchainKHR swapchain, uint32_t imageIndex, VkSemaphore wait) {
    VkPresentInfoKHR presentInfo = {0};
    presentInfo.sType = VK_STRUCTURE_TYPE_PRESENT_INFO_KHR;
    presentInfo.waitSemaphoreCount = 1;
    presentInfo.pWaitSemaphores = &wait;
    presentInfo.swapchainCount = 1;
    presentInfo.pSwapchains = &swapchain;
    presentInfo.pImageIndices = &imageIndex;
    return vkQueuePresentKHR(queue, &presentInfo);
}
*/
import "C"
import (
	"errors"
	"fmt"

	"render-compositor/gpu"
)

// ErrSwapChainOutOfDate means the surface changed and the swapchain must be
// recreated before the next frame.
var ErrSwapChainOutOfDate = errors.New("vulkan: swapchain out of date")

// SwapChain images are written by transfer only: the parent clears them
// and blits the child's output in.
type SwapChain struct {
	Handle      C.VkSwapchainKHR
	Images      []C.VkImage
	Format      C.VkFormat
	ColorSpace  C.VkColorSpaceKHR
	PresentMode C.VkPresentModeKHR
	Extent      C.VkExtent2D
	ImageCount  uint32

	// One per image: a present must not reuse a semaphore that an earlier
	// present of another image may still hold.
	RenderFinished []C.VkSemaphore
}

type SwapChainConfig struct {
	Width  uint32
	Height uint32
	VSync  bool
}

func CreateSwapChain(device *Device, surface C.VkSurfaceKHR, config SwapChainConfig, old *SwapChain) (*SwapChain, error) {
	details := C.SwapChainSupportDetails{}
	C.querySwapChainSupport(device.PhysicalDevice, surface, &details)
	defer C.freeSwapChainSupportDetails(&details)

	if details.formatCount == 0 || details.presentModeCount == 0 {
		return nil, fmt.Errorf("%w: swapchain has no formats or present modes", gpu.ErrMissingFeature)
	}
	if details.capabilities.supportedUsageFlags&C.VK_IMAGE_USAGE_TRANSFER_DST_BIT == 0 {
		return nil, fmt.Errorf("%w: swapchain images cannot be transfer targets", gpu.ErrMissingFeature)
	}

	surfaceFormat := C.chooseSwapSurfaceFormat(details.formats, details.formatCount)
	presentMode := C.VkPresentModeKHR(C.VK_PRESENT_MODE_FIFO_KHR)
	if !config.VSync {
		presentMode = C.chooseSwapPresentMode(details.presentModes, details.presentModeCount)
	}
	extent := C.chooseSwapExtent(&details.capabilities, C.uint32_t(config.Width), C.uint32_t(config.Height))

	imageCount := details.capabilities.minImageCount + 1
	if details.capabilities.maxImageCount > 0 && imageCount > details.capabilities.maxImageCount {
		imageCount = details.capabilities.maxImageCount
	}

	createInfo := C.VkSwapchainCreateInfoKHR{
		sType:            C.VK_STRUCTURE_TYPE_SWAPCHAIN_CREATE_INFO_KHR,
		surface:          surface,
		minImageCount:    imageCount,
		imageFormat:      surfaceFormat.format,
		imageColorSpace:  surfaceFormat.colorSpace,
		imageExtent:      extent,
		imageArrayLayers: 1,
		imageUsage:       C.VK_IMAGE_USAGE_TRANSFER_DST_BIT,
		preTransform:     details.capabilities.currentTransform,
		compositeAlpha:   C.VK_COMPOSITE_ALPHA_OPAQUE_BIT_KHR,
		presentMode:      presentMode,
		clipped:          C.VK_TRUE,
	}
	if old != nil {
		createInfo.oldSwapchain = old.Handle
	}

	queueFamilyIndices := []C.uint32_t{C.uint32_t(device.GraphicsFamily), C.uint32_t(device.PresentFamily)}
	if device.GraphicsFamily != device.PresentFamily {
		createInfo.imageSharingMode = C.VK_SHARING_MODE_CONCURRENT
		createInfo.queueFamilyIndexCount = 2
		createInfo.pQueueFamilyIndices = &queueFamilyIndices[0]
	} else {
		createInfo.imageSharingMode = C.VK_SHARING_MODE_EXCLUSIVE
	}

	sc := &SwapChain{
		Format:      surfaceFormat.format,
		ColorSpace:  surfaceFormat.colorSpace,
		PresentMode: presentMode,
		Extent:      extent,
	}

	if err := check(C.vkCreateSwapchainKHR(device.Device, &createInfo, nil, &sc.Handle), "create swapchain"); err != nil {
		return nil, err
	}

	var actualImageCount C.uint32_t
	C.vkGetSwapchainImagesKHR(device.Device, sc.Handle, &actualImageCount, nil)
	sc.Images = make([]C.VkImage, actualImageCount)
	C.vkGetSwapchainImagesKHR(device.Device, sc.Handle, &actualImageCount, &sc.Images[0])
	sc.ImageCount = uint32(actualImageCount)

	sc.RenderFinished = make([]C.VkSemaphore, len(sc.Images))
	for i := range sc.RenderFinished {
		sem, err := createBinarySemaphore(device)
		if err != nil {
			sc.Destroy(device)
			return nil, err
		}
		sc.RenderFinished[i] = sem
	}

	return sc, nil
}

func (sc *SwapChain) Destroy(device *Device) {
	for _, sem := range sc.RenderFinished {
		if sem != nil {
			C.vkDestroySemaphore(device.Device, sem, nil)
		}
	}
	sc.RenderFinished = nil
	if sc.Handle != nil {
		C.vkDestroySwapchainKHR(device.Device, sc.Handle, nil)
		sc.Handle = nil
	}
}

func (sc *SwapChain) AcquireNextImage(device *Device, semaphore C.VkSemaphore, timeout uint64) (uint32, error) {
	var imageIndex C.uint32_t
	result := C.vkAcquireNextImageKHR(device.Device, sc.Handle, C.uint64_t(timeout), semaphore, nil, &imageIndex)

	switch result {
	case C.VK_SUCCESS, C.VK_SUBOPTIMAL_KHR:
		return uint32(imageIndex), nil
	case C.VK_ERROR_OUT_OF_DATE_KHR:
		return 0, ErrSwapChainOutOfDate
	}
	return 0, submitError(result, "acquire swapchain image")
}

// Present queues imageIndex for display once its RenderFinished semaphore
// is signalled.
func (sc *SwapChain) Present(device *Device, imageIndex uint32) error {
	result := C.presentImage(device.PresentQueue, sc.Handle, C.uint32_t(imageIndex), sc.RenderFinished[imageIndex])
	switch result {
	case C.VK_SUCCESS:
		return nil
	case C.VK_SUBOPTIMAL_KHR, C.VK_ERROR_OUT_OF_DATE_KHR:
		return ErrSwapChainOutOfDate
	}
	return submitError(result, "present")
}
