//go:build windows

package capture

import (
	"fmt"
	"sync"
	"syscall"
	"unsafe"

	"github.com/haefele/remoteviewer/internal/screen"
)

// DXGI/D3D11 constants, trimmed to what this source touches.
const (
	d3dDriverTypeHardware = 1
	d3dFeatureLevel11_0   = 0xb000
	d3d11SDKVersion       = 7

	d3d11CreateDeviceBGRASupport = 0x20
	d3d11UsageStaging           = 3
	d3d11CPUAccessRead          = 0x20000
	dxgiFormatB8G8R8A8          = 87

	dxgiErrWaitTimeout   = 0x887A0027
	dxgiErrAccessLost    = 0x887A0026
	dxgiErrDeviceRemoved = 0x887A0005

	vtblQueryInterface         = 0
	vtblRelease                = 2
	dxgiDeviceGetAdapter       = 7
	dxgiAdapterEnumOutputs     = 7
	dxgiOutput1DuplicateOutput = 22
	dxgiDuplGetDesc            = 7
	dxgiDuplAcquireNextFrame   = 8
	dxgiDuplGetFrameDirtyRects = 11
	dxgiDuplGetFrameMoveRects  = 10
	dxgiDuplReleaseFrame       = 14
	d3d11DeviceCreateTexture2D = 5
	d3d11CtxMap                = 14
	d3d11CtxUnmap              = 15
	d3d11CtxCopyResource       = 47
)

type comGUID struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]byte
}

var iidIDXGIDevice = comGUID{0x54ec77fa, 0x1377, 0x44e6, [8]byte{0x8c, 0x32, 0x88, 0xfd, 0x5f, 0x44, 0xc8, 0x4c}}
var iidIDXGIOutput1 = comGUID{0x00cddea8, 0x939b, 0x4b83, [8]byte{0xa3, 0x40, 0xa6, 0x85, 0x22, 0x66, 0x66, 0xcc}}

var d3d11DLL = syscall.NewLazyDLL("d3d11.dll")
var procD3D11CreateDevice = d3d11DLL.NewProc("D3D11CreateDevice")

type d3d11Texture2DDesc struct {
	Width, Height                          uint32
	MipLevels, ArraySize                   uint32
	Format                                 uint32
	SampleCount, SampleQuality             uint32
	Usage                                  uint32
	BindFlags, CPUAccessFlags, MiscFlags   uint32
}

type d3d11MappedSubresource struct {
	PData      uintptr
	RowPitch   uint32
	DepthPitch uint32
}

type dxgiOutDuplFrameInfo struct {
	LastPresentTime           int64
	LastMouseUpdateTime       int64
	AccumulatedFrames         uint32
	RectsCoalesced            int32
	ProtectedContentMaskedOut int32
	PointerPositionX          int32
	PointerPositionY          int32
	PointerVisible            int32
	TotalMetadataBufferSize   uint32
	PointerShapeBufferSize    uint32
}

type dxgiRect struct{ Left, Top, Right, Bottom int32 }

type dxgiOutDuplMoveRect struct {
	SourcePoint struct{ X, Y int32 }
	DestinationRect dxgiRect
}

func comVtblFn(obj uintptr, idx int) uintptr {
	vtable := *(*uintptr)(unsafe.Pointer(obj))
	return *(*uintptr)(unsafe.Pointer(vtable + uintptr(idx)*unsafe.Sizeof(uintptr(0))))
}

func comCall(obj uintptr, idx int, args ...uintptr) (uintptr, error) {
	full := append([]uintptr{obj}, args...)
	hr, _, _ := syscall.SyscallN(comVtblFn(obj, idx), full...)
	if int32(hr) < 0 {
		return hr, fmt.Errorf("dxgi: HRESULT 0x%08X", uint32(hr))
	}
	return hr, nil
}

func comRelease(obj uintptr) {
	if obj != 0 {
		syscall.SyscallN(comVtblFn(obj, vtblRelease), obj)
	}
}

// DXGISource implements DuplicationSource via DXGI Desktop Duplication,
// one object per output. Built with raw syscalls rather than a COM
// wrapper library: the teacher's own DXGI backend does the same,
// reaching for go-ole only for the simpler IDispatch automation
// surfaces (Windows Update), not for high-frequency vtable calls.
type DXGISource struct {
	mu sync.Mutex

	displayIndex int
	device       uintptr
	context      uintptr
	duplication  uintptr
	staging      uintptr

	width, height int32
	acquired      bool
}

// NewDXGISource opens desktop duplication for the Nth display output.
func NewDXGISource(displayIndex int) (*DXGISource, error) {
	s := &DXGISource{displayIndex: displayIndex}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *DXGISource) init() error {
	var device, context uintptr
	featureLevel := uint32(d3dFeatureLevel11_0)
	var actualLevel uint32
	hr, _, _ := procD3D11CreateDevice.Call(
		0, uintptr(d3dDriverTypeHardware), 0, uintptr(d3d11CreateDeviceBGRASupport),
		uintptr(unsafe.Pointer(&featureLevel)), 1, uintptr(d3d11SDKVersion),
		uintptr(unsafe.Pointer(&device)), uintptr(unsafe.Pointer(&actualLevel)), uintptr(unsafe.Pointer(&context)),
	)
	if int32(hr) < 0 {
		return fmt.Errorf("dxgi: D3D11CreateDevice: 0x%08X", uint32(hr))
	}

	var dxgiDevice uintptr
	if _, err := comCall(device, vtblQueryInterface, uintptr(unsafe.Pointer(&iidIDXGIDevice)), uintptr(unsafe.Pointer(&dxgiDevice))); err != nil {
		comRelease(context)
		comRelease(device)
		return fmt.Errorf("dxgi: QueryInterface IDXGIDevice: %w", err)
	}
	defer comRelease(dxgiDevice)

	var adapter uintptr
	if _, err := comCall(dxgiDevice, dxgiDeviceGetAdapter, uintptr(unsafe.Pointer(&adapter))); err != nil {
		comRelease(context)
		comRelease(device)
		return fmt.Errorf("dxgi: GetAdapter: %w", err)
	}
	defer comRelease(adapter)

	var output uintptr
	if _, err := comCall(adapter, dxgiAdapterEnumOutputs, uintptr(s.displayIndex), uintptr(unsafe.Pointer(&output))); err != nil {
		comRelease(context)
		comRelease(device)
		return fmt.Errorf("dxgi: EnumOutputs: %w", err)
	}

	var output1 uintptr
	_, err := comCall(output, vtblQueryInterface, uintptr(unsafe.Pointer(&iidIDXGIOutput1)), uintptr(unsafe.Pointer(&output1)))
	comRelease(output)
	if err != nil {
		comRelease(context)
		comRelease(device)
		return fmt.Errorf("dxgi: QueryInterface IDXGIOutput1: %w", err)
	}
	defer comRelease(output1)

	var duplication uintptr
	if _, err := comCall(output1, dxgiOutput1DuplicateOutput, device, uintptr(unsafe.Pointer(&duplication))); err != nil {
		comRelease(context)
		comRelease(device)
		return fmt.Errorf("dxgi: DuplicateOutput: %w", err)
	}

	s.device = device
	s.context = context
	s.duplication = duplication
	return nil
}

func (s *DXGISource) Dimensions() (int32, int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height, nil
}

func (s *DXGISource) AcquireNextFrame() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var frameInfo dxgiOutDuplFrameInfo
	var resource uintptr
	hr, _, _ := syscall.SyscallN(comVtblFn(s.duplication, dxgiDuplAcquireNextFrame), s.duplication,
		0, uintptr(unsafe.Pointer(&frameInfo)), uintptr(unsafe.Pointer(&resource)))
	switch uint32(hr) {
	case dxgiErrWaitTimeout:
		return 0, nil
	case dxgiErrAccessLost, dxgiErrDeviceRemoved:
		return 0, ErrAccessLost
	}
	if int32(hr) < 0 {
		return 0, fmt.Errorf("dxgi: AcquireNextFrame: 0x%08X", uint32(hr))
	}
	defer comRelease(resource)
	s.acquired = true
	return frameInfo.AccumulatedFrames, nil
}

func (s *DXGISource) DirtyRects(scratch []screen.Rect) (int, bool, error) {
	buf := make([]dxgiRect, len(scratch))
	var needed uint32
	_, _, _ = syscall.SyscallN(comVtblFn(s.duplication, dxgiDuplGetFrameDirtyRects), s.duplication,
		uintptr(len(buf)*int(unsafe.Sizeof(dxgiRect{}))), uintptr(unsafe.Pointer(&buf[0])), uintptr(unsafe.Pointer(&needed)))
	n := int(needed) / int(unsafe.Sizeof(dxgiRect{}))
	if n > len(scratch) {
		return 0, false, nil
	}
	for i := 0; i < n; i++ {
		scratch[i] = screen.Rect{Left: buf[i].Left, Top: buf[i].Top, Right: buf[i].Right, Bottom: buf[i].Bottom}
	}
	return n, true, nil
}

func (s *DXGISource) MoveRects(scratch []MoveRectHint) (int, bool, error) {
	buf := make([]dxgiOutDuplMoveRect, len(scratch))
	var needed uint32
	_, _, _ = syscall.SyscallN(comVtblFn(s.duplication, dxgiDuplGetFrameMoveRects), s.duplication,
		uintptr(len(buf)*int(unsafe.Sizeof(dxgiOutDuplMoveRect{}))), uintptr(unsafe.Pointer(&buf[0])), uintptr(unsafe.Pointer(&needed)))
	n := int(needed) / int(unsafe.Sizeof(dxgiOutDuplMoveRect{}))
	if n > len(scratch) {
		return 0, false, nil
	}
	for i := 0; i < n; i++ {
		r := buf[i]
		w := r.DestinationRect.Right - r.DestinationRect.Left
		h := r.DestinationRect.Bottom - r.DestinationRect.Top
		scratch[i] = MoveRectHint{SrcX: r.SourcePoint.X, SrcY: r.SourcePoint.Y, DstX: r.DestinationRect.Left, DstY: r.DestinationRect.Top, W: w, H: h}
	}
	return n, true, nil
}

func (s *DXGISource) CaptureFullPacked() ([]byte, error) {
	return s.copyRegion(screen.Rect{Left: 0, Top: 0, Right: s.width, Bottom: s.height})
}

func (s *DXGISource) CaptureRegionPacked(r screen.Rect) ([]byte, error) {
	return s.copyRegion(r)
}

// copyRegion maps the staging texture and packs one rectangle's worth
// of BGRA rows, honoring a row pitch that may exceed width*4.
func (s *DXGISource) copyRegion(r screen.Rect) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var mapped d3d11MappedSubresource
	if _, err := comCall(s.context, d3d11CtxMap, s.staging, 0, 1, 0, uintptr(unsafe.Pointer(&mapped))); err != nil {
		return nil, fmt.Errorf("dxgi: Map staging: %w", err)
	}
	defer syscall.SyscallN(comVtblFn(s.context, d3d11CtxUnmap), s.context, s.staging, 0)

	w, h := r.Width(), r.Height()
	out := make([]byte, w*h*4)
	rowBytes := int(w) * 4
	for row := int32(0); row < h; row++ {
		srcOffset := uintptr(int64(r.Top+row)*int64(mapped.RowPitch) + int64(r.Left)*4)
		src := unsafe.Slice((*byte)(unsafe.Pointer(mapped.PData+srcOffset)), rowBytes)
		copy(out[int(row)*rowBytes:int(row)*rowBytes+rowBytes], src)
	}
	return out, nil
}

func (s *DXGISource) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.release()
	return s.init()
}

func (s *DXGISource) release() {
	if s.acquired && s.duplication != 0 {
		syscall.SyscallN(comVtblFn(s.duplication, dxgiDuplReleaseFrame), s.duplication)
		s.acquired = false
	}
	comRelease(s.staging)
	comRelease(s.duplication)
	comRelease(s.context)
	comRelease(s.device)
	s.staging, s.duplication, s.context, s.device = 0, 0, 0, 0
}

func (s *DXGISource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.release()
	return nil
}
