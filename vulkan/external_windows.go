//go:build windows

package vulkan

/*
#define VK_USE_PLATFORM_WIN32_KHR
#include <windows.h>
#include <vulkan/vulkan.h>
#include <stdint.h>

VkResult getMemoryWin32(VkDevice device, VkDeviceMemory memory, uintptr_t* out) {
    PFN_vkGetMemoryWin32HandleKHR fn = (PFN_vkGetMemoryWin32HandleKHR)vkGetDeviceProcAddr(device, "vkGetMemoryWin32HandleKHR");
    if (fn == NULL) {
        return VK_ERROR_EXTENSION_NOT_PRESENT;
    }
    VkMemoryGetWin32HandleInfoKHR info = {0};
    info.sType = VK_STRUCTURE_TYPE_MEMORY_GET_WIN32_HANDLE_INFO_KHR;
    info.memory = memory;
    info.handleType = VK_EXTERNAL_MEMORY_HANDLE_TYPE_OPAQUE_WIN32_BIT;
    HANDLE h = NULL;
    VkResult res = fn(device, &info, &h);
    *out = (uintptr_t)h;
    return res;
}

VkResult getSemaphoreWin32(VkDevice device, VkSemaphore semaphore, uintptr_t* out) {
    PFN_vkGetSemaphoreWin32HandleKHR fn = (PFN_vkGetSemaphoreWin32HandleKHR)vkGetDeviceProcAddr(device, "vkGetSemaphoreWin32HandleKHR");
    if (fn == NULL) {
        return VK_ERROR_EXTENSION_NOT_PRESENT;
    }
    VkSemaphoreGetWin32HandleInfoKHR info = {0};
    info.sType = VK_STRUCTURE_TYPE_SEMAPHORE_GET_WIN32_HANDLE_INFO_KHR;
    info.semaphore = semaphore;
    info.handleType = VK_EXTERNAL_SEMAPHORE_HANDLE_TYPE_OPAQUE_WIN32_BIT;
    HANDLE h = NULL;
    VkResult res = fn(device, &info, &h);
    *out = (uintptr_t)h;
    return res;
}

VkResult importSemaphoreWin32(VkDevice device, VkSemaphore semaphore, uintptr_t h) {
    PFN_vkImportSemaphoreWin32HandleKHR fn = (PFN_vkImportSemaphoreWin32HandleKHR)vkGetDeviceProcAddr(device, "vkImportSemaphoreWin32HandleKHR");
    if (fn == NULL) {
        return VK_ERROR_EXTENSION_NOT_PRESENT;
    }
    VkImportSemaphoreWin32HandleInfoKHR info = {0};
    info.sType = VK_STRUCTURE_TYPE_IMPORT_SEMAPHORE_WIN32_HANDLE_INFO_KHR;
    info.semaphore = semaphore;
    info.handleType = VK_EXTERNAL_SEMAPHORE_HANDLE_TYPE_OPAQUE_WIN32_BIT;
    info.handle = (HANDLE)h;
    return fn(device, &info);
}

VkResult allocateImportedWin32(VkDevice device, VkImage image, VkDeviceSize size, uint32_t typeIndex, uintptr_t h, VkDeviceMemory* out) {
    VkMemoryDedicatedAllocateInfo dedicated = {0};
    dedicated.sType = VK_STRUCTURE_TYPE_MEMORY_DEDICATED_ALLOCATE_INFO;
    dedicated.image = image;

    VkImportMemoryWin32HandleInfoKHR import = {0};
    import.sType = VK_STRUCTURE_TYPE_IMPORT_MEMORY_WIN32_HANDLE_INFO_KHR;
    import.pNext = &dedicated;
    import.handleType = VK_EXTERNAL_MEMORY_HANDLE_TYPE_OPAQUE_WIN32_BIT;
    import.handle = (HANDLE)h;

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

// Win32 imports do not take ownership; the importer still closes the
// handle.
const importTakesOwnership = false

const (
	memoryHandleType    uint32 = C.VK_EXTERNAL_MEMORY_HANDLE_TYPE_OPAQUE_WIN32_BIT
	semaphoreHandleType uint32 = C.VK_EXTERNAL_SEMAPHORE_HANDLE_TYPE_OPAQUE_WIN32_BIT
)

var externalExtensions = []string{
	"VK_KHR_external_memory_win32",
	"VK_KHR_external_semaphore_win32",
}

func exportMemory(d *Device, mem C.VkDeviceMemory) (handle.Raw, error) {
	var h C.uintptr_t
	if err := check(C.getMemoryWin32(d.Device, mem, &h), "export memory handle"); err != nil {
		return handle.Raw{}, err
	}
	return handle.NewRaw(uintptr(h)), nil
}

func exportSemaphore(d *Device, sem C.VkSemaphore) (handle.Raw, error) {
	var h C.uintptr_t
	if err := check(C.getSemaphoreWin32(d.Device, sem, &h), "export semaphore handle"); err != nil {
		return handle.Raw{}, err
	}
	return handle.NewRaw(uintptr(h)), nil
}

func importMemory(d *Device, image C.VkImage, size C.VkDeviceSize, typeIndex uint32, raw uintptr) (C.VkDeviceMemory, error) {
	var mem C.VkDeviceMemory
	res := C.allocateImportedWin32(d.Device, image, size, C.uint32_t(typeIndex), C.uintptr_t(raw), &mem)
	return mem, check(res, "import memory handle")
}

func importSemaphore(d *Device, sem C.VkSemaphore, raw uintptr) error {
	return check(C.importSemaphoreWin32(d.Device, sem, C.uintptr_t(raw)), "import semaphore handle")
}
