package vulkan

/*
#include <vulkan/vulkan.h>
#include <stdbool.h>
#include <stdlib.h>
#include <string.h>

typedef struct {
    uint32_t graphicsFamily;
    uint32_t presentFamily;
    bool hasGraphicsFamily;
    bool hasPresentFamily;
} QueueFamilies;

// A null surface means the caller renders offscreen and presents nothing;
// the graphics family then doubles as the present family.
void findQueueFamilies(VkPhysicalDevice device, VkSurfaceKHR surface, QueueFamilies* info) {
    uint32_t queueFamilyCount = 0;
    vkGetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, NULL);

    VkQueueFamilyProperties* queueFamilies = (VkQueueFamilyProperties*)malloc(queueFamilyCount * sizeof(VkQueueFamilyProperties));
    vkGetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, queueFamilies);

    for (uint32_t i = 0; i < queueFamilyCount; i++) {
        if (!info->hasGraphicsFamily && (queueFamilies[i].queueFlags & VK_QUEUE_GRAPHICS_BIT)) {
            info->graphicsFamily = i;
            info->hasGraphicsFamily = true;
        }

        if (surface != VK_NULL_HANDLE && !info->hasPresentFamily) {
            VkBool32 presentSupport = VK_FALSE;
            vkGetPhysicalDeviceSurfaceSupportKHR(device, i, surface, &presentSupport);
            if (presentSupport) {
                info->presentFamily = i;
                info->hasPresentFamily = true;
            }
        }
    }
    if (surface == VK_NULL_HANDLE && info->hasGraphicsFamily) {
        info->presentFamily = info->graphicsFamily;
        info->hasPresentFamily = true;
    }

    free(queueFamilies);
}

bool supportsTimeline(VkPhysicalDevice device) {
    VkPhysicalDeviceProperties props;
    vkGetPhysicalDeviceProperties(device, &props);
    if (props.apiVersion < VK_API_VERSION_1_2) {
        return false;
    }

    VkPhysicalDeviceVulkan12Features features12 = {0};
    features12.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_VULKAN_1_2_FEATURES;
    VkPhysicalDeviceFeatures2 features = {0};
    features.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_FEATURES_2;
    features.pNext = &features12;
    vkGetPhysicalDeviceFeatures2(device, &features);
    return features12.timelineSemaphore == VK_TRUE;
}

void deviceUUID(VkPhysicalDevice device, uint8_t* out) {
    VkPhysicalDeviceIDProperties id = {0};
    id.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_ID_PROPERTIES;
    VkPhysicalDeviceProperties2 props = {0};
    props.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_PROPERTIES_2;
    props.pNext = &id;
    vkGetPhysicalDeviceProperties2(device, &props);
    memcpy(out, id.deviceUUID, VK_UUID_SIZE);
}

uint32_t rateDevice(VkPhysicalDevice device, VkSurfaceKHR surface) {
    QueueFamilies info = {0};
    findQueueFamilies(device, surface, &info);
    if (!info.hasGraphicsFamily || !info.hasPresentFamily) {
        return 0;
    }

    VkPhysicalDeviceProperties props;
    vkGetPhysicalDeviceProperties(device, &props);

    uint32_t score = 1;
    if (props.deviceType == VK_PHYSICAL_DEVICE_TYPE_DISCRETE_GPU) {
        score += 1000;
    }
    score += props.limits.maxImageDimension2D;
    return score;
}

// Returns the index of the first missing extension, or -1.
int missingExtension(VkPhysicalDevice device, char** names, uint32_t count) {
    uint32_t extensionCount = 0;
    vkEnumerateDeviceExtensionProperties(device, NULL, &extensionCount, NULL);

    VkExtensionProperties* availableExtensions = (VkExtensionProperties*)malloc((extensionCount + 1) * sizeof(VkExtensionProperties));
    vkEnumerateDeviceExtensionProperties(device, NULL, &extensionCount, availableExtensions);

    int missing = -1;
    for (uint32_t i = 0; i < count && missing < 0; i++) {
        bool found = false;
        for (uint32_t j = 0; j < extensionCount; j++) {
            if (strcmp(names[i], availableExtensions[j].extensionName) == 0) {
                found = true;
                break;
            }
        }
        if (!found) {
            missing = (int)i;
        }
    }

    free(availableExtensions);
    return missing;
}

VkResult createDevice(VkPhysicalDevice physical, uint32_t graphicsFamily, uint32_t presentFamily,
                      char** extensions, uint32_t extensionCount, VkDevice* out) {
    float priority = 1.0f;
    VkDeviceQueueCreateInfo queues[2] = {0};
    uint32_t queueCount = 1;
    queues[0].sType = VK_STRUCTURE_TYPE_DEVICE_QUEUE_CREATE_INFO;
    queues[0].queueFamilyIndex = graphicsFamily;
    queues[0].queueCount = 1;
    queues[0].pQueuePriorities = &priority;
    if (presentFamily != graphicsFamily) {
        queues[1] = queues[0];
        queues[1].queueFamilyIndex = presentFamily;
        queueCount = 2;
    }

    VkPhysicalDeviceVulkan12Features features12 = {0};
    features12.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_VULKAN_1_2_FEATURES;
    features12.timelineSemaphore = VK_TRUE;

    VkDeviceCreateInfo createInfo = {0};
    createInfo.sType = VK_STRUCTURE_TYPE_DEVICE_CREATE_INFO;
    createInfo.pNext = &features12;
    createInfo.queueCreateInfoCount = queueCount;
    createInfo.pQueueCreateInfos = queues;
    createInfo.enabledExtensionCount = extensionCount;
    createInfo.ppEnabledExtensionNames = (const char* const*)extensions;
    return vkCreateDevice(physical, &createInfo, NULL, out);
}

bool depthFormatSupported(VkPhysicalDevice device, VkFormat format) {
    VkFormatProperties props;
    vkGetPhysicalDeviceFormatProperties(device, format, &props);
    VkFormatFeatureFlags want = VK_FORMAT_FEATURE_DEPTH_STENCIL_ATTACHMENT_BIT | VK_FORMAT_FEATURE_TRANSFER_DST_BIT;
    return (props.optimalTilingFeatures & want) == want;
}
*/
import "C"
import (
	"fmt"
	"unsafe"

	"render-compositor/gpu"
	"render-compositor/logging"
)

const swapchainExtension = "VK_KHR_swapchain"

// Attachment formats. Depth falls back in order of preference.
var (
	colorFormats = [gpu.AttachmentCount]C.VkFormat{
		gpu.Color:   C.VK_FORMAT_R8G8B8A8_UNORM,
		gpu.Normal:  C.VK_FORMAT_R16G16B16A16_SFLOAT,
		gpu.GBuffer: C.VK_FORMAT_R16G16B16A16_SFLOAT,
	}
	depthFormats = []C.VkFormat{
		C.VK_FORMAT_D32_SFLOAT,
		C.VK_FORMAT_D32_SFLOAT_S8_UINT,
		C.VK_FORMAT_D24_UNORM_S8_UINT,
	}
)

// Device is a logical device with timeline semaphores and the platform's
// external memory and semaphore extensions enabled. It implements
// gpu.Device.
type Device struct {
	Instance       *Instance
	PhysicalDevice C.VkPhysicalDevice
	Device         C.VkDevice
	GraphicsQueue  C.VkQueue
	PresentQueue   C.VkQueue
	CommandPool    C.VkCommandPool

	GraphicsFamily uint32
	PresentFamily  uint32
	Properties     C.VkPhysicalDeviceProperties
	MemoryProps    C.VkPhysicalDeviceMemoryProperties

	Formats [gpu.AttachmentCount]C.VkFormat
	ID      gpu.UUID
}

var _ gpu.Device = (*Device)(nil)

// newDevice picks the best physical device and creates the logical device
// on it. surface is nil for an offscreen device. A non-zero want restricts
// the pick to the physical device with that UUID.
func newDevice(instance *Instance, surface C.VkSurfaceKHR, want gpu.UUID) (*Device, error) {
	extensions := append([]string(nil), externalExtensions...)
	if surface != nil {
		extensions = append(extensions, swapchainExtension)
	}
	names := make([]*C.char, len(extensions)+1)
	for i, ext := range extensions {
		names[i] = C.CString(ext)
		defer C.free(unsafe.Pointer(names[i]))
	}

	d, err := pickPhysicalDevice(instance, surface, want, names[:len(extensions)], extensions)
	if err != nil {
		return nil, err
	}
	if err := d.createLogicalDevice(surface, names[:len(extensions)]); err != nil {
		d.Destroy()
		return nil, err
	}

	logging.Logger().Info("vulkan device ready",
		"gpu", d.GPUName(), "type", d.DeviceType(), "offscreen", surface == nil)
	return d, nil
}

func pickPhysicalDevice(instance *Instance, surface C.VkSurfaceKHR, want gpu.UUID, names []*C.char, extensions []string) (*Device, error) {
	var deviceCount C.uint32_t
	result := C.vkEnumeratePhysicalDevices(instance.Handle, &deviceCount, nil)
	if result != C.VK_SUCCESS || deviceCount == 0 {
		return nil, fmt.Errorf("%w: no GPU with Vulkan support", gpu.ErrMissingFeature)
	}

	devices := make([]C.VkPhysicalDevice, deviceCount)
	C.vkEnumeratePhysicalDevices(instance.Handle, &deviceCount, &devices[0])

	var bestDevice C.VkPhysicalDevice
	var bestScore C.uint32_t
	var reason string

	for _, device := range devices {
		if want != (gpu.UUID{}) && physicalUUID(device) != want {
			reason = fmt.Sprintf("device %x", want[:])
			continue
		}
		if !C.supportsTimeline(device) {
			reason = "timeline semaphores"
			continue
		}
		if len(names) > 0 {
			if i := C.missingExtension(device, &names[0], C.uint32_t(len(names))); i >= 0 {
				reason = extensions[i]
				continue
			}
		}

		score := C.rateDevice(device, surface)
		if score > bestScore {
			bestScore = score
			bestDevice = device
		}
	}

	if bestDevice == nil {
		if reason == "" {
			reason = "graphics queue"
		}
		return nil, fmt.Errorf("%w: no suitable GPU (missing %s)", gpu.ErrMissingFeature, reason)
	}

	d := &Device{
		Instance:       instance,
		PhysicalDevice: bestDevice,
	}

	C.vkGetPhysicalDeviceProperties(bestDevice, &d.Properties)
	d.ID = physicalUUID(bestDevice)
	C.vkGetPhysicalDeviceMemoryProperties(bestDevice, &d.MemoryProps)

	d.Formats = colorFormats
	depth, err := d.findDepthFormat()
	if err != nil {
		return nil, err
	}
	d.Formats[gpu.Depth] = depth
	return d, nil
}

func physicalUUID(device C.VkPhysicalDevice) gpu.UUID {
	var id gpu.UUID
	C.deviceUUID(device, (*C.uint8_t)(unsafe.Pointer(&id[0])))
	return id
}

// UUID identifies the physical device to the other process.
func (d *Device) UUID() gpu.UUID { return d.ID }

func (d *Device) findDepthFormat() (C.VkFormat, error) {
	for _, f := range depthFormats {
		if C.depthFormatSupported(d.PhysicalDevice, f) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: no depth attachment format", gpu.ErrMissingFeature)
}

func (d *Device) createLogicalDevice(surface C.VkSurfaceKHR, names []*C.char) error {
	var families C.QueueFamilies
	C.findQueueFamilies(d.PhysicalDevice, surface, &families)
	d.GraphicsFamily = uint32(families.graphicsFamily)
	d.PresentFamily = uint32(families.presentFamily)

	var namesPtr **C.char
	if len(names) > 0 {
		namesPtr = &names[0]
	}
	result := C.createDevice(d.PhysicalDevice, families.graphicsFamily, families.presentFamily,
		namesPtr, C.uint32_t(len(names)), &d.Device)
	if err := check(result, "create logical device"); err != nil {
		return err
	}

	C.vkGetDeviceQueue(d.Device, C.uint32_t(d.GraphicsFamily), 0, &d.GraphicsQueue)
	C.vkGetDeviceQueue(d.Device, C.uint32_t(d.PresentFamily), 0, &d.PresentQueue)

	poolInfo := C.VkCommandPoolCreateInfo{
		sType:            C.VK_STRUCTURE_TYPE_COMMAND_POOL_CREATE_INFO,
		queueFamilyIndex: C.uint32_t(d.GraphicsFamily),
		flags:            C.VK_COMMAND_POOL_CREATE_RESET_COMMAND_BUFFER_BIT,
	}
	return check(C.vkCreateCommandPool(d.Device, &poolInfo, nil, &d.CommandPool), "create command pool")
}

func (d *Device) Destroy() {
	if d.CommandPool != nil {
		C.vkDestroyCommandPool(d.Device, d.CommandPool, nil)
		d.CommandPool = nil
	}
	if d.Device != nil {
		C.vkDestroyDevice(d.Device, nil)
		d.Device = nil
	}
}

func (d *Device) WaitIdle() error {
	return check(C.vkDeviceWaitIdle(d.Device), "wait for device idle")
}

func (d *Device) GPUName() string {
	return C.GoString(&d.Properties.deviceName[0])
}

func (d *Device) DeviceType() string {
	switch d.Properties.deviceType {
	case C.VK_PHYSICAL_DEVICE_TYPE_INTEGRATED_GPU:
		return "Integrated GPU"
	case C.VK_PHYSICAL_DEVICE_TYPE_DISCRETE_GPU:
		return "Discrete GPU"
	case C.VK_PHYSICAL_DEVICE_TYPE_VIRTUAL_GPU:
		return "Virtual GPU"
	case C.VK_PHYSICAL_DEVICE_TYPE_CPU:
		return "CPU"
	default:
		return "Unknown"
	}
}

func (d *Device) FindMemoryType(typeFilter uint32, properties C.VkMemoryPropertyFlags) (uint32, error) {
	for i := uint32(0); i < uint32(d.MemoryProps.memoryTypeCount); i++ {
		if (typeFilter&(1<<i)) != 0 && (d.MemoryProps.memoryTypes[i].propertyFlags&properties) == properties {
			return i, nil
		}
	}
	return 0, fmt.Errorf("failed to find suitable memory type")
}
