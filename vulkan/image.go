package vulkan

/*
#include <vulkan/vulkan.h>
#include <stdint.h>

VkResult createSharedImage(VkDevice device, uint32_t width, uint32_t height, VkFormat format,
                           VkImageUsageFlags usage, uint32_t handleType, VkImage* out) {
    VkExternalMemoryImageCreateInfo external = {0};
    external.sType = VK_STRUCTURE_TYPE_EXTERNAL_MEMORY_IMAGE_CREATE_INFO;
    external.handleTypes = handleType;

    VkImageCreateInfo imageInfo = {0};
    imageInfo.sType = VK_STRUCTURE_TYPE_IMAGE_CREATE_INFO;
    imageInfo.pNext = &external;
    imageInfo.imageType = VK_IMAGE_TYPE_2D;
    imageInfo.extent.width = width;
    imageInfo.extent.height = height;
    imageInfo.extent.depth = 1;
    imageInfo.mipLevels = 1;
    imageInfo.arrayLayers = 1;
    imageInfo.format = format;
    imageInfo.tiling = VK_IMAGE_TILING_OPTIMAL;
    imageInfo.initialLayout = VK_IMAGE_LAYOUT_UNDEFINED;
    imageInfo.usage = usage;
    imageInfo.samples = VK_SAMPLE_COUNT_1_BIT;
    imageInfo.sharingMode = VK_SHARING_MODE_EXCLUSIVE;
    return vkCreateImage(device, &imageInfo, NULL, out);
}

VkResult allocateExportable(VkDevice device, VkImage image, VkDeviceSize size, uint32_t typeIndex,
                            uint32_t handleType, VkDeviceMemory* out) {
    VkMemoryDedicatedAllocateInfo dedicated = {0};
    dedicated.sType = VK_STRUCTURE_TYPE_MEMORY_DEDICATED_ALLOCATE_INFO;
    dedicated.image = image;

    VkExportMemoryAllocateInfo export = {0};
    export.sType = VK_STRUCTURE_TYPE_EXPORT_MEMORY_ALLOCATE_INFO;
    export.pNext = &dedicated;
    export.handleTypes = handleType;

    VkMemoryAllocateInfo allocInfo = {0};
    allocInfo.sType = VK_STRUCTURE_TYPE_MEMORY_ALLOCATE_INFO;
    allocInfo.pNext = &export;
    allocInfo.allocationSize = size;
    allocInfo.memoryTypeIndex = typeIndex;
    return vkAllocateMemory(device, &allocInfo, NULL, out);
}
*/
import "C"
import (
	"fmt"

	"render-compositor/gpu"
	"render-compositor/handle"
)

// Image is a framebuffer attachment backed by external memory. Exported
// images and the images imported around them alias the same allocation.
type Image struct {
	dev    *Device
	Handle C.VkImage
	Memory C.VkDeviceMemory
	Format C.VkFormat
	Width  uint32
	Height uint32

	desc       handle.Desc
	exportable bool
}

var _ gpu.ExportableImage = (*Image)(nil)

func (img *Image) Desc() handle.Desc { return img.desc }

func (img *Image) Export() (handle.Raw, error) {
	if !img.exportable {
		return handle.Raw{}, handle.ErrNotExportable
	}
	return exportMemory(img.dev, img.Memory)
}

func (img *Image) Aspect() C.VkImageAspectFlags {
	switch img.Format {
	case C.VK_FORMAT_D32_SFLOAT:
		return C.VK_IMAGE_ASPECT_DEPTH_BIT
	case C.VK_FORMAT_D32_SFLOAT_S8_UINT, C.VK_FORMAT_D24_UNORM_S8_UINT:
		return C.VK_IMAGE_ASPECT_DEPTH_BIT | C.VK_IMAGE_ASPECT_STENCIL_BIT
	}
	return C.VK_IMAGE_ASPECT_COLOR_BIT
}

func (img *Image) IsDepth() bool { return img.Aspect()&C.VK_IMAGE_ASPECT_DEPTH_BIT != 0 }

func (img *Image) Destroy() {
	if img.Handle != nil {
		C.vkDestroyImage(img.dev.Device, img.Handle, nil)
		img.Handle = nil
	}
	if img.Memory != nil {
		C.vkFreeMemory(img.dev.Device, img.Memory, nil)
		img.Memory = nil
	}
}

func (img *Image) usage() C.VkImageUsageFlags {
	if img.IsDepth() {
		return C.VK_IMAGE_USAGE_DEPTH_STENCIL_ATTACHMENT_BIT |
			C.VK_IMAGE_USAGE_TRANSFER_SRC_BIT | C.VK_IMAGE_USAGE_TRANSFER_DST_BIT
	}
	return C.VK_IMAGE_USAGE_COLOR_ATTACHMENT_BIT | C.VK_IMAGE_USAGE_SAMPLED_BIT |
		C.VK_IMAGE_USAGE_TRANSFER_SRC_BIT | C.VK_IMAGE_USAGE_TRANSFER_DST_BIT
}

// newSharedImage creates the image object only; the caller binds memory.
func (d *Device) newSharedImage(format C.VkFormat, e gpu.Extent) (*Image, C.VkMemoryRequirements, error) {
	var reqs C.VkMemoryRequirements
	if e.Width == 0 || e.Height == 0 {
		return nil, reqs, fmt.Errorf("empty image extent %dx%d", e.Width, e.Height)
	}
	img := &Image{
		dev:    d,
		Format: format,
		Width:  uint32(e.Width),
		Height: uint32(e.Height),
	}
	res := C.createSharedImage(d.Device, C.uint32_t(img.Width), C.uint32_t(img.Height), format,
		img.usage(), C.uint32_t(memoryHandleType), &img.Handle)
	if err := check(res, "create shared image"); err != nil {
		return nil, reqs, err
	}
	C.vkGetImageMemoryRequirements(d.Device, img.Handle, &reqs)
	return img, reqs, nil
}

// CreateImage allocates an exportable attachment image and moves it to the
// GENERAL layout, released to the external queue family.
func (d *Device) CreateImage(a gpu.Attachment, e gpu.Extent) (gpu.ExportableImage, error) {
	img, reqs, err := d.newSharedImage(d.Formats[a], e)
	if err != nil {
		return nil, err
	}
	memType, err := d.FindMemoryType(uint32(reqs.memoryTypeBits), C.VK_MEMORY_PROPERTY_DEVICE_LOCAL_BIT)
	if err != nil {
		img.Destroy()
		return nil, err
	}

	res := C.allocateExportable(d.Device, img.Handle, reqs.size, C.uint32_t(memType),
		C.uint32_t(memoryHandleType), &img.Memory)
	if err := check(res, "allocate exportable image memory"); err != nil {
		img.Destroy()
		return nil, err
	}
	if err := check(C.vkBindImageMemory(d.Device, img.Handle, img.Memory, 0), "bind image memory"); err != nil {
		img.Destroy()
		return nil, err
	}

	img.exportable = true
	img.desc = handle.Desc{
		Kind:   handle.KindMemory,
		Size:   uint64(reqs.size),
		Format: uint32(img.Format),
		Width:  e.Width,
		Height: e.Height,
	}

	err = d.runOnce(func(cb *CommandBuffer) {
		cb.Barrier(ImageBarrier{
			Image:     img.Handle,
			Aspect:    img.Aspect(),
			OldLayout: C.VK_IMAGE_LAYOUT_UNDEFINED,
			NewLayout: C.VK_IMAGE_LAYOUT_GENERAL,
			SrcStage:  C.VK_PIPELINE_STAGE_TOP_OF_PIPE_BIT,
			DstStage:  C.VK_PIPELINE_STAGE_BOTTOM_OF_PIPE_BIT,
			SrcFamily: d.GraphicsFamily,
			DstFamily: QueueFamilyExternal,
		})
	})
	if err != nil {
		img.Destroy()
		return nil, err
	}
	return img, nil
}

// ImportImage rebuilds an attachment around imported memory. The image is
// created from want; a driver whose requirements exceed the exporter's
// allocation fails with handle.ErrImportParameterMismatch.
func (d *Device) ImportImage(imp *handle.Imported, want handle.Desc) (gpu.Image, error) {
	if imp.Kind() != handle.KindMemory || want.Kind != handle.KindMemory {
		return nil, fmt.Errorf("%w: handle is %s, want %s", handle.ErrImportParameterMismatch, imp.Kind(), want.Kind)
	}
	img, reqs, err := d.newSharedImage(C.VkFormat(want.Format), gpu.Extent{Width: want.Width, Height: want.Height})
	if err != nil {
		return nil, err
	}
	if uint64(reqs.size) > want.Size {
		img.Destroy()
		return nil, fmt.Errorf("%w: image needs %d bytes, exporter allocated %d",
			handle.ErrImportParameterMismatch, uint64(reqs.size), want.Size)
	}
	memType, err := d.FindMemoryType(uint32(reqs.memoryTypeBits), C.VK_MEMORY_PROPERTY_DEVICE_LOCAL_BIT)
	if err != nil {
		img.Destroy()
		return nil, err
	}

	err = imp.Consume(func(raw uintptr) (bool, error) {
		mem, err := importMemory(d, img.Handle, C.VkDeviceSize(want.Size), memType, raw)
		if err != nil {
			return false, err
		}
		img.Memory = mem
		return importTakesOwnership, nil
	})
	if err != nil {
		img.Destroy()
		return nil, err
	}
	if err := check(C.vkBindImageMemory(d.Device, img.Handle, img.Memory, 0), "bind imported memory"); err != nil {
		img.Destroy()
		return nil, err
	}
	img.desc = want
	return img, nil
}
