//go:build unix

package vulkan

/*
#include <vulkan/vulkan.h>
#include <stdint.h>

VkResult getMemoryFd(VkDevice device, VkDeviceMemory memory, int* fd) {
    PFN_vkGetMemoryFdKHR fn = (PFN_vkGetMemoryFdKHR)vkGetDeviceProcAddr(device, "vkGetMemoryFdKHR");
    if (fn == NULL) {
        return VK_ERROR_EXTENSION_NOT_PRESENT;
    }
    VkMemoryGetFdInfoKHR info = {0};
    info.sType = VK_STRUCTURE_TYPE_MEMORY_GET_FD_INFO_KHR;
    info.memory = memory;
    info.handleType = VK_EXTERNAL_MEMORY_HANDLE_TYPE_OPAQUE_FD_BIT;
    return fn(device, &info, fd);
}

VkResult getSemaphoreFd(VkDevice device, VkSemaphore semaphore, int* fd) {
    PFN_vkGetSemaphoreFdKHR fn = (PFN_vkGetSemaphoreFdKHR)vkGetDeviceProcAddr(device, "vkGetSemaphoreFdKHR");
    if (fn == NULL) {
        return VK_ERROR_EXTENSION_NOT_PRESENT;
    }
    VkSemaphoreGetFdInfoKHR info = {0};
    info.sType = VK_STRUCTURE_TYPE_SEMAPHORE_GET_FD_INFO_KHR;
    info.semaphore = semaphore;
    info.handleType = VK_EXTERNAL_SEMAPHORE_HANDLE_TYPE_OPAQUE_FD_BIT;
    return fn(device, &info, fd);
}

VkResult importSemaphoreFd(VkDevice device, VkSemaphore semaphore, int fd) {
    PFN_vkImportSemaphoreFdKHR fn = (PFN_vkImportSemaphoreFdKHR)vkGetDeviceProcAddr(device, "vkImportSemaphoreFdKHR");
    if (fn == NULL) {
        return VK_ERROR_EXTENSION_NOT_PRESENT;
    }
    VkImportSemaphoreFdInfoKHR info = {0};
    info.sType = VK_STRUCTURE_TYPE_IMPORT_SEMAPHORE_FD_INFO_KHR;
    info.semaphore = semaphore;
    info.handleType = VK_EXTERNAL_SEMAPHORE_HANDLE_TYPE_OPAQUE_FD_BIT;
    info.fd = fd;
    return fn(device, &info);
}

VkResult allocateImportedFd(VkDevice device, VkImage image, VkDeviceSize size, uint32_t typeIndex, int fd, VkDeviceMemory* out) {
    VkMemoryDedicatedAllocateInfo dedicated = {0};
    dedicated.sType = VK_STRUCTURE_TYPE_MEMORY_DEDICATED_ALLOCATE_INFO;
    dedicated.image = image;

    VkImportMemoryFdInfoKHR import = {0};
    import.sType = VK_STRUCTURE_TYPE_IMPORT_MEMORY_FD_INFO_KHR;
    import.pNext = &dedicated;
    import.handleType = VK_EXTERNAL_MEMORY_HANDLE_TYPE_OPAQUE_FD_BIT;
    import.fd = fd;

    VkMemoryAllocateInfo allocInfo = {0};
    allocInfo.sType = VK_STRUCTURE_TYPE_MEMORY_ALLOCATE_INFO;
    allocInfo.pNext = &import;
    allocInfo.allocationSize = size;
    allocInfo.memoryTypeIndex = typeIndex;
    return vkAllocateMemory(device, &allocInfo, NULL, out);
}
*/
import "C"
import (
	"render-compositor/handle"
)

// A successful fd import hands the fd to the driver.
const importTakesOwnership = true

const (
	memoryHandleType    uint32 = C.VK_EXTERNAL_MEMORY_HANDLE_TYPE_OPAQUE_FD_BIT
	semaphoreHandleType uint32 = C.VK_EXTERNAL_SEMAPHORE_HANDLE_TYPE_OPAQUE_FD_BIT
)

var externalExtensions = []string{
	"VK_KHR_external_memory_fd",
	"VK_KHR_external_semaphore_fd",
}

func exportMemory(d *Device, mem C.VkDeviceMemory) (handle.Raw, error) {
	var fd C.int
	if err := check(C.getMemoryFd(d.Device, mem, &fd), "export memory fd"); err != nil {
		return handle.Raw{}, err
	}
	return handle.NewRaw(uintptr(fd)), nil
}

func exportSemaphore(d *Device, sem C.VkSemaphore) (handle.Raw, error) {
	var fd C.int
	if err := check(C.getSemaphoreFd(d.Device, sem, &fd), "export semaphore fd"); err != nil {
		return handle.Raw{}, err
	}
	return handle.NewRaw(uintptr(fd)), nil
}

func importMemory(d *Device, image C.VkImage, size C.VkDeviceSize, typeIndex uint32, raw uintptr) (C.VkDeviceMemory, error) {
	var mem C.VkDeviceMemory
	res := C.allocateImportedFd(d.Device, image, size, C.uint32_t(typeIndex), C.int(raw), &mem)
	return mem, check(res, "import memory fd")
}

func importSemaphore(d *Device, sem C.VkSemaphore, raw uintptr) error {
	return check(C.importSemaphoreFd(d.Device, sem, C.int(raw)), "import semaphore fd")
}
