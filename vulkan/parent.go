package vulkan

/*
#include <vulkan/vulkan.h>
*/
import "C"
import (
	"errors"
	"fmt"
	"math"

	"render-compositor/gpu"
	"render-compositor/logging"
	"render-compositor/node"
	"render-compositor/scene"
)

type ParentConfig struct {
	VSync            bool
	EnableValidation bool

	// Quad is where the child's color attachment lands in the scene.
	Quad       scene.NodeQuad
	Background [4]float32
}

// Parent is the presenting renderer: it clears the swapchain image as the
// scene pass and blits the child's finished color attachment onto the
// projected node quad.
type Parent struct {
	*Device
	cfg     ParentConfig
	window  Window
	surface C.VkSurfaceKHR

	swapChain      *SwapChain
	imageAvailable C.VkSemaphore
	commands       []CommandBuffer
	stale          bool
}

var _ node.ParentRenderer = (*Parent)(nil)

func NewParent(window Window, cfg ParentConfig) (*Parent, error) {
	icfg := DefaultInstanceConfig()
	icfg.RequiredExtensions = window.GetRequiredInstanceExtensions()
	icfg.EnableValidation = cfg.EnableValidation

	instance, err := NewInstance(icfg)
	if err != nil {
		return nil, err
	}
	r := &Parent{cfg: cfg, window: window}

	if r.surface, err = createSurface(instance, window); err != nil {
		instance.Destroy()
		return nil, err
	}
	if r.Device, err = newDevice(instance, r.surface, gpu.UUID{}); err != nil {
		C.vkDestroySurfaceKHR(instance.Handle, r.surface, nil)
		instance.Destroy()
		return nil, err
	}
	if err := r.create(); err != nil {
		r.Destroy()
		return nil, err
	}
	return r, nil
}

func (r *Parent) create() error {
	var err error
	if r.swapChain, err = CreateSwapChain(r.Device, r.surface, r.swapChainConfig(), nil); err != nil {
		return err
	}
	if r.imageAvailable, err = createBinarySemaphore(r.Device); err != nil {
		return err
	}
	r.commands, err = AllocateCommandBuffers(r.Device, r.CommandPool, 1)
	return err
}

func (r *Parent) swapChainConfig() SwapChainConfig {
	w, h := r.window.GetFramebufferSize()
	return SwapChainConfig{Width: uint32(w), Height: uint32(h), VSync: r.cfg.VSync}
}

func (r *Parent) recreateSwapChain() error {
	w, h := r.window.GetFramebufferSize()
	if w == 0 || h == 0 {
		// Minimized; try again next frame.
		return nil
	}
	if err := check(C.vkQueueWaitIdle(r.PresentQueue), "wait for present queue"); err != nil {
		return err
	}
	sc, err := CreateSwapChain(r.Device, r.surface, r.swapChainConfig(), r.swapChain)
	if err != nil {
		return err
	}
	r.swapChain.Destroy(r.Device)
	r.swapChain = sc
	r.stale = false
	logging.Logger().Debug("swapchain recreated", "width", w, "height", h)
	return nil
}

// RenderFrame records and submits one parent frame. The submission always
// signals f.Signal on the parent timeline, also when there is no swapchain
// image to draw into, so the loop's pacing holds across resizes.
func (r *Parent) RenderFrame(f *node.ParentFrame) error {
	own, ok := f.Timeline.(*Semaphore)
	if !ok {
		return fmt.Errorf("parent timeline is %T, not a vulkan semaphore", f.Timeline)
	}

	if r.stale {
		if err := r.recreateSwapChain(); err != nil {
			return err
		}
	}

	index, err := uint32(0), error(nil)
	if r.stale {
		err = ErrSwapChainOutOfDate
	} else {
		index, err = r.swapChain.AcquireNextImage(r.Device, r.imageAvailable, math.MaxUint64)
	}
	if errors.Is(err, ErrSwapChainOutOfDate) {
		r.stale = true
		return r.signalOnly(own, f)
	}
	if err != nil {
		return err
	}

	cb := &r.commands[0]
	if err := cb.Reset(); err != nil {
		return err
	}
	if err := cb.Begin(true); err != nil {
		return err
	}
	target := r.swapChain.Images[index]
	var sub Submission
	sub.Wait(r.imageAvailable, 0, C.VK_PIPELINE_STAGE_TRANSFER_BIT)

	cb.Barrier(ImageBarrier{
		Image:     target,
		OldLayout: C.VK_IMAGE_LAYOUT_UNDEFINED,
		NewLayout: C.VK_IMAGE_LAYOUT_TRANSFER_DST_OPTIMAL,
		SrcStage:  C.VK_PIPELINE_STAGE_TRANSFER_BIT,
		DstStage:  C.VK_PIPELINE_STAGE_TRANSFER_BIT,
		DstAccess: C.VK_ACCESS_TRANSFER_WRITE_BIT,
	})
	cb.ClearColor(target, C.VK_IMAGE_LAYOUT_TRANSFER_DST_OPTIMAL, r.cfg.Background)

	if f.Composite != nil {
		if err := r.composite(cb, &sub, target, f); err != nil {
			return err
		}
	}

	cb.Barrier(ImageBarrier{
		Image:     target,
		OldLayout: C.VK_IMAGE_LAYOUT_TRANSFER_DST_OPTIMAL,
		NewLayout: C.VK_IMAGE_LAYOUT_PRESENT_SRC_KHR,
		SrcStage:  C.VK_PIPELINE_STAGE_TRANSFER_BIT,
		DstStage:  C.VK_PIPELINE_STAGE_BOTTOM_OF_PIPE_BIT,
		SrcAccess: C.VK_ACCESS_TRANSFER_WRITE_BIT,
	})
	if err := cb.End(); err != nil {
		return err
	}

	sub.Wait(own.Handle, f.Wait, C.VK_PIPELINE_STAGE_ALL_COMMANDS_BIT)
	sub.Signal(own.Handle, f.Signal)
	sub.Signal(r.swapChain.RenderFinished[index], 0)
	if err := sub.Submit(r.GraphicsQueue, cb); err != nil {
		return err
	}

	if err := r.swapChain.Present(r.Device, index); err != nil {
		if errors.Is(err, ErrSwapChainOutOfDate) {
			r.stale = true
			return nil
		}
		return err
	}
	return nil
}

func (r *Parent) composite(cb *CommandBuffer, sub *Submission, target C.VkImage, f *node.ParentFrame) error {
	c := f.Composite
	color, ok := c.Set[gpu.Color].(*Image)
	if !ok {
		return fmt.Errorf("slot %d color attachment is %T, not a vulkan image", c.Slot, c.Set[gpu.Color])
	}
	peer, ok := c.Peer.(*Semaphore)
	if !ok {
		return fmt.Errorf("child timeline is %T, not a vulkan semaphore", c.Peer)
	}
	sub.Wait(peer.Handle, c.PeerValue, C.VK_PIPELINE_STAGE_TRANSFER_BIT)

	extent := r.swapChain.Extent
	dst, src, visible := r.cfg.Quad.Project(f.ViewProjection,
		int(extent.width), int(extent.height), int(color.Width), int(color.Height))

	cb.Shared(color, r.GraphicsFamily, false)
	if visible {
		cb.Barrier(ImageBarrier{
			Image:     target,
			OldLayout: C.VK_IMAGE_LAYOUT_TRANSFER_DST_OPTIMAL,
			NewLayout: C.VK_IMAGE_LAYOUT_TRANSFER_DST_OPTIMAL,
			SrcStage:  C.VK_PIPELINE_STAGE_TRANSFER_BIT,
			DstStage:  C.VK_PIPELINE_STAGE_TRANSFER_BIT,
			SrcAccess: C.VK_ACCESS_TRANSFER_WRITE_BIT,
			DstAccess: C.VK_ACCESS_TRANSFER_WRITE_BIT,
		})
		cb.Blit(color, src, target, C.VK_IMAGE_LAYOUT_TRANSFER_DST_OPTIMAL, dst)
	}
	cb.Shared(color, r.GraphicsFamily, true)
	return nil
}

// signalOnly keeps the parent timeline moving when no image was acquired.
func (r *Parent) signalOnly(own *Semaphore, f *node.ParentFrame) error {
	cb := &r.commands[0]
	if err := cb.Reset(); err != nil {
		return err
	}
	if err := cb.Begin(true); err != nil {
		return err
	}
	if err := cb.End(); err != nil {
		return err
	}
	var sub Submission
	sub.Wait(own.Handle, f.Wait, C.VK_PIPELINE_STAGE_ALL_COMMANDS_BIT)
	sub.Signal(own.Handle, f.Signal)
	return sub.Submit(r.GraphicsQueue, cb)
}

// Destroy waits for the device and releases everything NewParent created.
func (r *Parent) Destroy() {
	if r.Device == nil {
		return
	}
	instance := r.Instance
	if r.Device.Device != nil {
		C.vkDeviceWaitIdle(r.Device.Device)
		FreeCommandBuffers(r.Device, r.CommandPool, r.commands)
		r.commands = nil
		if r.imageAvailable != nil {
			C.vkDestroySemaphore(r.Device.Device, r.imageAvailable, nil)
			r.imageAvailable = nil
		}
		if r.swapChain != nil {
			r.swapChain.Destroy(r.Device)
			r.swapChain = nil
		}
	}
	r.Device.Destroy()
	C.vkDestroySurfaceKHR(instance.Handle, r.surface, nil)
	instance.Destroy()
	r.Device = nil
}
