package vulkan

/*
#include <vulkan/vulkan.h>
*/
import "C"
import (
	"fmt"

	"render-compositor/gpu"
	"render-compositor/node"
	"render-compositor/scene"
)

type ChildConfig struct {
	EnableValidation bool
	// Device is the parent's physical device. Zero picks the best one.
	Device gpu.UUID
}

// Child is the offscreen renderer. Each frame it acquires the slot's
// imported attachments, clears them and releases them back to the parent.
type Child struct {
	*Device
	commands []CommandBuffer
}

var _ node.ChildRenderer = (*Child)(nil)

var (
	flatNormal = [4]float32{0.5, 0.5, 1, 1}
	gbuffer    = [4]float32{0.5, 0, 1, 1} // roughness, metallic, occlusion
)

func NewChild(cfg ChildConfig) (*Child, error) {
	icfg := DefaultInstanceConfig()
	icfg.AppName = "Render Compositor Node"
	icfg.EnableValidation = cfg.EnableValidation

	instance, err := NewInstance(icfg)
	if err != nil {
		return nil, err
	}
	r := &Child{}
	if r.Device, err = newDevice(instance, nil, cfg.Device); err != nil {
		instance.Destroy()
		return nil, err
	}
	if r.commands, err = AllocateCommandBuffers(r.Device, r.CommandPool, 1); err != nil {
		r.Destroy()
		return nil, err
	}
	return r, nil
}

func (r *Child) RenderFrame(f *node.ChildFrame) error {
	own, ok := f.Timeline.(*Semaphore)
	if !ok {
		return fmt.Errorf("child timeline is %T, not a vulkan semaphore", f.Timeline)
	}

	var images [gpu.AttachmentCount]*Image
	for a, img := range f.Target {
		vi, ok := img.(*Image)
		if !ok {
			return fmt.Errorf("slot %d %s is %T, not a vulkan image", f.Slot, gpu.Attachment(a), img)
		}
		images[a] = vi
	}

	cb := &r.commands[0]
	if err := cb.Reset(); err != nil {
		return err
	}
	if err := cb.Begin(true); err != nil {
		return err
	}
	for a, img := range images {
		cb.Shared(img, r.GraphicsFamily, false)
		switch gpu.Attachment(a) {
		case gpu.Color:
			cb.ClearColor(img.Handle, C.VK_IMAGE_LAYOUT_GENERAL, scene.FrameColor(f.Index))
		case gpu.Normal:
			cb.ClearColor(img.Handle, C.VK_IMAGE_LAYOUT_GENERAL, flatNormal)
		case gpu.GBuffer:
			cb.ClearColor(img.Handle, C.VK_IMAGE_LAYOUT_GENERAL, gbuffer)
		case gpu.Depth:
			cb.ClearDepth(img, 1)
		}
		cb.Shared(img, r.GraphicsFamily, true)
	}
	if err := cb.End(); err != nil {
		return err
	}

	var sub Submission
	sub.Wait(own.Handle, f.Wait, C.VK_PIPELINE_STAGE_ALL_COMMANDS_BIT)
	sub.Signal(own.Handle, f.Signal)
	return sub.Submit(r.GraphicsQueue, cb)
}

func (r *Child) Destroy() {
	if r.Device == nil {
		return
	}
	instance := r.Instance
	if r.Device.Device != nil {
		C.vkDeviceWaitIdle(r.Device.Device)
		FreeCommandBuffers(r.Device, r.CommandPool, r.commands)
		r.commands = nil
	}
	r.Device.Destroy()
	instance.Destroy()
	r.Device = nil
}
