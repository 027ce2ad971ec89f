//go:build windows

package capture

import (
	"fmt"
	"runtime"

	"github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"

	"github.com/haefele/remoteviewer/internal/screen"
)

// EnumerateDisplays lists the monitors attached to the current
// interactive session via the WMI WmiMonitorID/Win32_DesktopMonitor
// classes, reached through IDispatch automation rather than a raw
// vtable walk: the same approach the patch-management WMI session
// uses for Microsoft.Update.Session, since this is a low-frequency
// call (once per reconcile tick, not per frame).
func EnumerateDisplays() ([]screen.Display, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := ole.CoInitializeEx(0, ole.COINIT_MULTITHREADED); err != nil {
		return nil, fmt.Errorf("capture: CoInitializeEx: %w", err)
	}
	defer ole.CoUninitialize()

	locator, err := oleutil.CreateObject("WbemScripting.SWbemLocator")
	if err != nil {
		return nil, fmt.Errorf("capture: create SWbemLocator: %w", err)
	}
	defer locator.Release()

	dispatch, err := locator.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		return nil, fmt.Errorf("capture: query SWbemLocator dispatch: %w", err)
	}
	defer dispatch.Release()

	serviceVar, err := oleutil.CallMethod(dispatch, "ConnectServer", nil, `root\wmi`)
	if err != nil {
		return nil, fmt.Errorf("capture: ConnectServer root\\wmi: %w", err)
	}
	defer serviceVar.Clear()
	service := serviceVar.ToIDispatch()

	resultVar, err := oleutil.CallMethod(service, "ExecQuery", "SELECT * FROM WmiMonitorID")
	if err != nil {
		return nil, fmt.Errorf("capture: ExecQuery WmiMonitorID: %w", err)
	}
	defer resultVar.Clear()
	result := resultVar.ToIDispatch()

	countVar, err := oleutil.GetProperty(result, "Count")
	if err != nil {
		return nil, fmt.Errorf("capture: read result Count: %w", err)
	}
	count := int(countVar.Val)

	displays := make([]screen.Display, 0, count)
	_ = oleutil.ForEach(result, func(v *ole.VARIANT) error {
		item := v.ToIDispatch()
		defer item.Clear()

		instanceVar, err := oleutil.GetProperty(item, "InstanceName")
		if err != nil {
			return nil
		}
		id := instanceVar.ToString()

		displays = append(displays, screen.Display{
			ID:           id,
			FriendlyName: id,
			IsPrimary:    len(displays) == 0,
		})
		return nil
	})

	return displays, nil
}
