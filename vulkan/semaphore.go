package vulkan

/*
#include <vulkan/vulkan.h>
#include <stdint.h>

// handleType 0 creates a timeline that cannot be exported.
VkResult createTimeline(VkDevice device, uint64_t initial, uint32_t handleType, VkSemaphore* out) {
    VkExportSemaphoreCreateInfo export = {0};
    export.sType = VK_STRUCTURE_TYPE_EXPORT_SEMAPHORE_CREATE_INFO;
    export.handleTypes = handleType;

    VkSemaphoreTypeCreateInfo typeInfo = {0};
    typeInfo.sType = VK_STRUCTURE_TYPE_SEMAPHORE_TYPE_CREATE_INFO;
    typeInfo.semaphoreType = VK_SEMAPHORE_TYPE_TIMELINE;
    typeInfo.initialValue = initial;
    if (handleType != 0) {
        typeInfo.pNext = &export;
    }

    VkSemaphoreCreateInfo createInfo = {0};
    createInfo.sType = VK_STRUCTURE_TYPE_SEMAPHORE_CREATE_INFO;
    createInfo.pNext = &typeInfo;
    return vkCreateSemaphore(device, &createInfo, NULL, out);
}

VkResult waitTimeline(VkDevice device, VkSemaphore semaphore, uint64_t value, uint64_t timeout) {
    VkSemaphoreWaitInfo waitInfo = {0};
    waitInfo.sType = VK_STRUCTURE_TYPE_SEMAPHORE_WAIT_INFO;
    waitInfo.semaphoreCount = 1;
    waitInfo.pSemaphores = &semaphore;
    waitInfo.pValues = &value;
    return vkWaitSemaphores(device, &waitInfo, timeout);
}
*/
import "C"
import (
	"fmt"
	"math"
	"time"

	"render-compositor/gpu"
	"render-compositor/handle"
)

// Semaphore is a timeline semaphore, created locally or imported.
type Semaphore struct {
	dev        *Device
	Handle     C.VkSemaphore
	exportable bool
}

var _ gpu.ExportableSemaphore = (*Semaphore)(nil)

func (s *Semaphore) Desc() handle.Desc { return handle.Desc{Kind: handle.KindSemaphore} }

func (s *Semaphore) Export() (handle.Raw, error) {
	if !s.exportable {
		return handle.Raw{}, handle.ErrNotExportable
	}
	return exportSemaphore(s.dev, s.Handle)
}

func (s *Semaphore) Value() (uint64, error) {
	var v C.uint64_t
	if err := check(C.vkGetSemaphoreCounterValue(s.dev.Device, s.Handle, &v), "read timeline"); err != nil {
		return 0, err
	}
	return uint64(v), nil
}

func (s *Semaphore) Wait(value uint64, timeout time.Duration) error {
	ns := uint64(math.MaxUint64)
	if timeout >= 0 {
		ns = uint64(timeout.Nanoseconds())
	}
	res := C.waitTimeline(s.dev.Device, s.Handle, C.uint64_t(value), C.uint64_t(ns))
	if res == C.VK_TIMEOUT {
		return gpu.ErrWaitTimeout
	}
	return check(res, "wait timeline")
}

func (s *Semaphore) Destroy() {
	if s.Handle != nil {
		C.vkDestroySemaphore(s.dev.Device, s.Handle, nil)
		s.Handle = nil
	}
}

func (d *Device) CreateTimeline(initial uint64) (gpu.ExportableSemaphore, error) {
	s := &Semaphore{dev: d, exportable: true}
	res := C.createTimeline(d.Device, C.uint64_t(initial), C.uint32_t(semaphoreHandleType), &s.Handle)
	if err := check(res, "create timeline semaphore"); err != nil {
		return nil, err
	}
	return s, nil
}

// ImportTimeline creates a timeline and replaces its payload with the
// exporter's.
func (d *Device) ImportTimeline(imp *handle.Imported) (gpu.Semaphore, error) {
	if imp.Kind() != handle.KindSemaphore {
		return nil, fmt.Errorf("%w: handle is %s, want %s", handle.ErrImportParameterMismatch, imp.Kind(), handle.KindSemaphore)
	}
	s := &Semaphore{dev: d}
	if err := check(C.createTimeline(d.Device, 0, 0, &s.Handle), "create timeline semaphore"); err != nil {
		return nil, err
	}
	err := imp.Consume(func(raw uintptr) (bool, error) {
		if err := importSemaphore(d, s.Handle, raw); err != nil {
			return false, err
		}
		return importTakesOwnership, nil
	})
	if err != nil {
		s.Destroy()
		return nil, err
	}
	return s, nil
}

// createBinarySemaphore backs swapchain acquire and present, which cannot
// use timelines.
func createBinarySemaphore(d *Device) (C.VkSemaphore, error) {
	createInfo := C.VkSemaphoreCreateInfo{
		sType: C.VK_STRUCTURE_TYPE_SEMAPHORE_CREATE_INFO,
	}
	var sem C.VkSemaphore
	if err := check(C.vkCreateSemaphore(d.Device, &createInfo, nil, &sem), "create semaphore"); err != nil {
		return nil, err
	}
	return sem, nil
}
