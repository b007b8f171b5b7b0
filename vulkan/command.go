package vulkan

/*
#include <vulkan/vulkan.h>
#include <stdint.h>

void clearColorImage(VkCommandBuffer cmd, VkImage image, VkImageLayout layout, float r, float g, float b, float a) {
    VkClearColorValue color;
    color.float32[0] = r;
    color.float32[1] = g;
    color.float32[2] = b;
    color.float32[3] = a;
    VkImageSubresourceRange range = {VK_IMAGE_ASPECT_COLOR_BIT, 0, 1, 0, 1};
    vkCmdClearColorImage(cmd, image, layout, &color, 1, &range);
}

void clearDepthImage(VkCommandBuffer cmd, VkImage image, VkImageLayout layout, VkImageAspectFlags aspect, float depth) {
    VkClearDepthStencilValue value = {depth, 0};
    VkImageSubresourceRange range = {aspect, 0, 1, 0, 1};
    vkCmdClearDepthStencilImage(cmd, image, layout, &value, 1, &range);
}

void blitImage(VkCommandBuffer cmd, VkImage src, VkImageLayout srcLayout, int32_t sx0, int32_t sy0, int32_t sx1, int32_t sy1,
               VkImage dst, VkImageLayout dstLayout, int32_t x0, int32_t y0, int32_t x1, int32_t y1) {
    VkImageBlit region = {0};
    region.srcSubresource.aspectMask = VK_IMAGE_ASPECT_COLOR_BIT;
    region.srcSubresource.layerCount = 1;
    region.srcOffsets[0].x = sx0;
    region.srcOffsets[0].y = sy0;
    region.srcOffsets[1].x = sx1;
    region.srcOffsets[1].y = sy1;
    region.srcOffsets[1].z = 1;
    region.dstSubresource.aspectMask = VK_IMAGE_ASPECT_COLOR_BIT;
    region.dstSubresource.layerCount = 1;
    region.dstOffsets[0].x = x0;
    region.dstOffsets[0].y = y0;
    region.dstOffsets[1].x = x1;
    region.dstOffsets[1].y = y1;
    region.dstOffsets[1].z = 1;
    vkCmdBlitImage(cmd, src, srcLayout, dst, dstLayout, 1, &region, VK_FILTER_LINEAR);
}

void imageBarrier(VkCommandBuffer cmd, VkImage image, VkImageAspectFlags aspect,
                  VkImageLayout oldLayout, VkImageLayout newLayout,
                  VkAccessFlags srcAccess, VkAccessFlags dstAccess,
                  VkPipelineStageFlags srcStage, VkPipelineStageFlags dstStage,
                  uint32_t srcFamily, uint32_t dstFamily) {
    VkImageMemoryBarrier barrier = {0};
    barrier.sType = VK_STRUCTURE_TYPE_IMAGE_MEMORY_BARRIER;
    barrier.oldLayout = oldLayout;
    barrier.newLayout = newLayout;
    barrier.srcAccessMask = srcAccess;
    barrier.dstAccessMask = dstAccess;
    barrier.srcQueueFamilyIndex = srcFamily;
    barrier.dstQueueFamilyIndex = dstFamily;
    barrier.image = image;
    barrier.subresourceRange.aspectMask = aspect;
    barrier.subresourceRange.levelCount = 1;
    barrier.subresourceRange.layerCount = 1;
    vkCmdPipelineBarrier(cmd, srcStage, dstStage, 0, 0, NULL, 0, NULL, 1, &barrier);
}

// Binary semaphores in the lists take a value too; the driver ignores it.
VkResult submitTimeline(VkQueue queue, VkCommandBuffer cmd,
                        VkSemaphore* waits, uint64_t* waitValues, VkPipelineStageFlags* waitStages, uint32_t waitCount,
                        VkSemaphore* signals, uint64_t* signalValues, uint32_t signalCount) {
    VkTimelineSemaphoreSubmitInfo timeline = {0};
    timeline.sType = VK_STRUCTURE_TYPE_TIMELINE_SEMAPHORE_SUBMIT_INFO;
    timeline.waitSemaphoreValueCount = waitCount;
    timeline.pWaitSemaphoreValues = waitValues;
    timeline.signalSemaphoreValueCount = signalCount;
    timeline.pSignalSemaphoreValues = signalValues;

    VkSubmitInfo submit = {0};
    submit.sType = VK_STRUCTURE_TYPE_SUBMIT_INFO;
    submit.pNext = &timeline;
    submit.waitSemaphoreCount = waitCount;
    submit.pWaitSemaphores = waits;
    submit.pWaitDstStageMask = waitStages;
    submit.commandBufferCount = 1;
    submit.pCommandBuffers = &cmd;
    submit.signalSemaphoreCount = signalCount;
    submit.pSignalSemaphores = signals;
    return vkQueueSubmit(queue, 1, &submit, VK_NULL_HANDLE);
}
*/
import "C"
import (
	"render-compositor/scene"
)

// QueueFamilyExternal is the queue family shared images are released to
// and acquired from when they cross the process boundary.
const QueueFamilyExternal = uint32(C.VK_QUEUE_FAMILY_EXTERNAL)

const queueFamilyIgnored = uint32(C.VK_QUEUE_FAMILY_IGNORED)

type CommandBuffer struct {
	Handle C.VkCommandBuffer
}

func AllocateCommandBuffers(device *Device, pool C.VkCommandPool, count uint32) ([]CommandBuffer, error) {
	allocInfo := C.VkCommandBufferAllocateInfo{
		sType:              C.VK_STRUCTURE_TYPE_COMMAND_BUFFER_ALLOCATE_INFO,
		commandPool:        pool,
		level:              C.VK_COMMAND_BUFFER_LEVEL_PRIMARY,
		commandBufferCount: C.uint32_t(count),
	}

	buffers := make([]CommandBuffer, count)
	handles := make([]C.VkCommandBuffer, count)

	if err := check(C.vkAllocateCommandBuffers(device.Device, &allocInfo, &handles[0]), "allocate command buffers"); err != nil {
		return nil, err
	}

	for i := range buffers {
		buffers[i].Handle = handles[i]
	}

	return buffers, nil
}

func (cb *CommandBuffer) Begin(oneTime bool) error {
	beginInfo := C.VkCommandBufferBeginInfo{
		sType: C.VK_STRUCTURE_TYPE_COMMAND_BUFFER_BEGIN_INFO,
	}

	if oneTime {
		beginInfo.flags = C.VK_COMMAND_BUFFER_USAGE_ONE_TIME_SUBMIT_BIT
	}

	return check(C.vkBeginCommandBuffer(cb.Handle, &beginInfo), "begin recording command buffer")
}

func (cb *CommandBuffer) End() error {
	return check(C.vkEndCommandBuffer(cb.Handle), "end recording command buffer")
}

func (cb *CommandBuffer) Reset() error {
	return check(C.vkResetCommandBuffer(cb.Handle, 0), "reset command buffer")
}

// ImageBarrier is a layout transition with an optional queue family
// ownership transfer. Equal families mean no transfer.
type ImageBarrier struct {
	Image                C.VkImage
	Aspect               C.VkImageAspectFlags
	OldLayout, NewLayout C.VkImageLayout
	SrcAccess, DstAccess C.VkAccessFlags
	SrcStage, DstStage   C.VkPipelineStageFlags
	SrcFamily, DstFamily uint32
}

func (cb *CommandBuffer) Barrier(b ImageBarrier) {
	if b.Aspect == 0 {
		b.Aspect = C.VK_IMAGE_ASPECT_COLOR_BIT
	}
	if b.SrcFamily == b.DstFamily {
		b.SrcFamily, b.DstFamily = queueFamilyIgnored, queueFamilyIgnored
	}
	C.imageBarrier(cb.Handle, b.Image, b.Aspect, b.OldLayout, b.NewLayout,
		b.SrcAccess, b.DstAccess, b.SrcStage, b.DstStage,
		C.uint32_t(b.SrcFamily), C.uint32_t(b.DstFamily))
}

// Shared acquires img from the peer process (release=false) or releases it
// back (release=true). Shared images stay in GENERAL.
func (cb *CommandBuffer) Shared(img *Image, family uint32, release bool) {
	b := ImageBarrier{
		Image:     img.Handle,
		Aspect:    img.Aspect(),
		OldLayout: C.VK_IMAGE_LAYOUT_GENERAL,
		NewLayout: C.VK_IMAGE_LAYOUT_GENERAL,
		SrcFamily: QueueFamilyExternal,
		DstFamily: family,
		SrcStage:  C.VK_PIPELINE_STAGE_TOP_OF_PIPE_BIT,
		DstStage:  C.VK_PIPELINE_STAGE_TRANSFER_BIT,
		DstAccess: C.VK_ACCESS_TRANSFER_READ_BIT | C.VK_ACCESS_TRANSFER_WRITE_BIT,
	}
	if release {
		b.SrcFamily, b.DstFamily = family, QueueFamilyExternal
		b.SrcStage, b.DstStage = C.VK_PIPELINE_STAGE_TRANSFER_BIT, C.VK_PIPELINE_STAGE_BOTTOM_OF_PIPE_BIT
		b.SrcAccess, b.DstAccess = C.VK_ACCESS_TRANSFER_READ_BIT|C.VK_ACCESS_TRANSFER_WRITE_BIT, 0
	}
	cb.Barrier(b)
}

func (cb *CommandBuffer) ClearColor(img C.VkImage, layout C.VkImageLayout, rgba [4]float32) {
	C.clearColorImage(cb.Handle, img, layout, C.float(rgba[0]), C.float(rgba[1]), C.float(rgba[2]), C.float(rgba[3]))
}

func (cb *CommandBuffer) ClearDepth(img *Image, depth float32) {
	C.clearDepthImage(cb.Handle, img.Handle, C.VK_IMAGE_LAYOUT_GENERAL, img.Aspect(), C.float(depth))
}

// Blit scales the from region of src into the to region of dst. src is a
// shared image and stays in GENERAL.
func (cb *CommandBuffer) Blit(src *Image, from scene.Rect, dst C.VkImage, dstLayout C.VkImageLayout, to scene.Rect) {
	C.blitImage(cb.Handle, src.Handle, C.VK_IMAGE_LAYOUT_GENERAL,
		C.int32_t(from.X0), C.int32_t(from.Y0), C.int32_t(from.X1), C.int32_t(from.Y1),
		dst, dstLayout, C.int32_t(to.X0), C.int32_t(to.Y0), C.int32_t(to.X1), C.int32_t(to.Y1))
}

// Submission collects the semaphores of one queue submission.
type Submission struct {
	waits        []C.VkSemaphore
	waitValues   []C.uint64_t
	waitStages   []C.VkPipelineStageFlags
	signals      []C.VkSemaphore
	signalValues []C.uint64_t
}

func (s *Submission) Wait(sem C.VkSemaphore, value uint64, stage C.VkPipelineStageFlags) {
	s.waits = append(s.waits, sem)
	s.waitValues = append(s.waitValues, C.uint64_t(value))
	s.waitStages = append(s.waitStages, stage)
}

func (s *Submission) Signal(sem C.VkSemaphore, value uint64) {
	s.signals = append(s.signals, sem)
	s.signalValues = append(s.signalValues, C.uint64_t(value))
}

func (s *Submission) Submit(queue C.VkQueue, cb *CommandBuffer) error {
	var (
		waits        *C.VkSemaphore
		waitValues   *C.uint64_t
		waitStages   *C.VkPipelineStageFlags
		signals      *C.VkSemaphore
		signalValues *C.uint64_t
	)
	if len(s.waits) > 0 {
		waits, waitValues, waitStages = &s.waits[0], &s.waitValues[0], &s.waitStages[0]
	}
	if len(s.signals) > 0 {
		signals, signalValues = &s.signals[0], &s.signalValues[0]
	}
	res := C.submitTimeline(queue, cb.Handle,
		waits, waitValues, waitStages, C.uint32_t(len(s.waits)),
		signals, signalValues, C.uint32_t(len(s.signals)))
	return submitError(res, "submit frame")
}

// runOnce records fn into a one-time command buffer, submits it and waits
// for the queue to drain.
func (d *Device) runOnce(fn func(cb *CommandBuffer)) error {
	buffers, err := AllocateCommandBuffers(d, d.CommandPool, 1)
	if err != nil {
		return err
	}
	defer FreeCommandBuffers(d, d.CommandPool, buffers)

	cb := &buffers[0]
	if err := cb.Begin(true); err != nil {
		return err
	}
	fn(cb)
	if err := cb.End(); err != nil {
		return err
	}

	var s Submission
	if err := s.Submit(d.GraphicsQueue, cb); err != nil {
		return err
	}
	return check(C.vkQueueWaitIdle(d.GraphicsQueue), "wait for queue idle")
}

func FreeCommandBuffers(device *Device, pool C.VkCommandPool, buffers []CommandBuffer) {
	if len(buffers) == 0 {
		return
	}
	handles := make([]C.VkCommandBuffer, len(buffers))
	for i, buf := range buffers {
		handles[i] = buf.Handle
	}
	C.vkFreeCommandBuffers(device.Device, pool, C.uint32_t(len(handles)), &handles[0])
}
