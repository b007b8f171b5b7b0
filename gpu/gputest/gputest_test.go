package gputest

import (
	"errors"
	"testing"
	"time"

	"render-compositor/gpu"
	"render-compositor/handle"
)

func share(t *testing.T, drv *Driver, res handle.Exportable, kind handle.Kind) *handle.Imported {
	t.Helper()
	h, err := handle.ExportTo(res, drv.Duplicator())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	raw, err := drv.Resolver().Resolve(h)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	return handle.NewImported(raw, kind)
}

func TestImageSharesMemory(t *testing.T) {
	drv := NewDriver()
	parent, child := drv.NewDevice(), drv.NewDevice()

	img, err := parent.CreateImage(gpu.Color, gpu.Extent{Width: 800, Height: 600})
	if err != nil {
		t.Fatal(err)
	}
	if got := img.Desc().Size; got != 800*600*4 {
		t.Errorf("size = %d", got)
	}

	imp := share(t, drv, img, handle.KindMemory)
	got, err := child.ImportImage(imp, img.Desc())
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	got.(*Image).Pixels()[10] = 0xAB
	if img.(*Image).Pixels()[10] != 0xAB {
		t.Errorf("imported image does not alias exporter memory")
	}
	if n := drv.OpenHandles(); n != 0 {
		t.Errorf("%d handles left open", n)
	}
}

func TestImportRejectsMismatchedDesc(t *testing.T) {
	drv := NewDriver()
	parent, child := drv.NewDevice(), drv.NewDevice()

	img, _ := parent.CreateImage(gpu.Normal, gpu.Extent{Width: 64, Height: 64})
	imp := share(t, drv, img, handle.KindMemory)

	want := img.Desc()
	want.Width = 32
	if _, err := child.ImportImage(imp, want); !errors.Is(err, handle.ErrImportParameterMismatch) {
		t.Fatalf("import err = %v, want ErrImportParameterMismatch", err)
	}
	// A failed import leaves the handle with the wrapper.
	if err := imp.Release(); err != nil {
		t.Fatal(err)
	}
	if n := drv.OpenHandles(); n != 0 {
		t.Errorf("%d handles left open", n)
	}
}

func TestImportOnce(t *testing.T) {
	drv := NewDriver()
	drv.TakesOwnership = false
	parent, child := drv.NewDevice(), drv.NewDevice()

	sem, _ := parent.CreateTimeline(0)
	imp := share(t, drv, sem, handle.KindSemaphore)
	if _, err := child.ImportTimeline(imp); err != nil {
		t.Fatal(err)
	}
	if _, err := child.ImportTimeline(imp); !errors.Is(err, handle.ErrAlreadyImported) {
		t.Errorf("second import err = %v", err)
	}
	// Not owned by the driver, so Consume closed it.
	if n := drv.OpenHandles(); n != 0 {
		t.Errorf("%d handles left open", n)
	}
}

func TestNotExportable(t *testing.T) {
	drv := NewDriver()
	dev := drv.NewDevice()
	dev.NoExport = true
	img, _ := dev.CreateImage(gpu.Depth, gpu.Extent{Width: 4, Height: 4})
	if _, err := handle.ExportTo(img, drv.Duplicator()); !errors.Is(err, handle.ErrNotExportable) {
		t.Errorf("err = %v", err)
	}
}

func TestDuplicateIntoClosedTarget(t *testing.T) {
	drv := NewDriver()
	img, _ := drv.NewDevice().CreateImage(gpu.Color, gpu.Extent{Width: 4, Height: 4})
	dup := drv.Duplicator()
	dup.Close()
	if _, err := handle.ExportTo(img, dup); !errors.Is(err, handle.ErrHandleDuplicationFailed) {
		t.Errorf("err = %v", err)
	}
	if n := drv.OpenHandles(); n != 0 {
		t.Errorf("local export handle leaked: %d open", n)
	}
}

func TestSemaphoreWait(t *testing.T) {
	s := NewSemaphore(4)
	if err := s.Wait(4, 0); err != nil {
		t.Errorf("wait on reached value: %v", err)
	}
	if err := s.Wait(8, 10*time.Millisecond); !errors.Is(err, gpu.ErrWaitTimeout) {
		t.Errorf("err = %v, want ErrWaitTimeout", err)
	}

	go func() {
		time.Sleep(5 * time.Millisecond)
		s.Signal(8)
	}()
	if err := s.Wait(8, time.Second); err != nil {
		t.Errorf("wait: %v", err)
	}

	s.Signal(2)
	if v, _ := s.Value(); v != 8 {
		t.Errorf("value moved backwards to %d", v)
	}

	s.Lose()
	if _, err := s.Value(); !errors.Is(err, gpu.ErrDeviceLost) {
		t.Errorf("value err = %v", err)
	}
	if err := s.Wait(100, -1); !errors.Is(err, gpu.ErrDeviceLost) {
		t.Errorf("wait err = %v", err)
	}
}

func TestFramebufferSet(t *testing.T) {
	drv := NewDriver()
	set, err := gpu.CreateFramebufferSet(drv.NewDevice(), gpu.Extent{Width: 8, Height: 2})
	if err != nil {
		t.Fatal(err)
	}
	if set[gpu.GBuffer].Desc().Format != Formats[gpu.GBuffer] {
		t.Errorf("gbuffer format = %d", set[gpu.GBuffer].Desc().Format)
	}
	set.Destroy()
	if set[gpu.Color] != nil {
		t.Errorf("destroy left images in set")
	}
}
