package samsungmdc

import (
	"fmt"

	"github.com/nerrad567/gray-logic-av/internal/mdc"
)

// Source is a display input source identifier as shown to users.
type Source string

// Input sources supported by MDC displays.
const (
	SourceNone                Source = "NONE"
	SourceSVideo              Source = "S_VIDEO"
	SourceComponent           Source = "COMPONENT"
	SourceAV                  Source = "AV"
	SourceAV2                 Source = "AV2"
	SourceSCART1              Source = "SCART1"
	SourceDVI                 Source = "DVI"
	SourcePC                  Source = "PC"
	SourceBNC                 Source = "BNC"
	SourceDVIVideo            Source = "DVI_VIDEO"
	SourceMagicInfo           Source = "MAGIC_INFO"
	SourceHDMI1               Source = "HDMI1"
	SourceHDMI1PC             Source = "HDMI1_PC"
	SourceHDMI2               Source = "HDMI2"
	SourceHDMI2PC             Source = "HDMI2_PC"
	SourceDisplayPort1        Source = "DISPLAY_PORT_1"
	SourceDisplayPort2        Source = "DISPLAY_PORT_2"
	SourceDisplayPort3        Source = "DISPLAY_PORT_3"
	SourceRFTV                Source = "RF_TV"
	SourceHDMI3               Source = "HDMI3"
	SourceHDMI3PC             Source = "HDMI3_PC"
	SourceHDMI4               Source = "HDMI4"
	SourceHDMI4PC             Source = "HDMI4_PC"
	SourceTVDTV               Source = "TV_DTV"
	SourcePlugInMode          Source = "PLUG_IN_MODE"
	SourceHDBaseT             Source = "HD_BASE_T"
	SourceMediaMagicInfoS     Source = "MEDIA_MAGIC_INFO_S"
	SourceWiDiScreenMirroring Source = "WIDI_SCREEN_MIRRORING"
	SourceInternalUSB         Source = "INTERNAL_USB"
	SourceURLLauncher         Source = "URL_LAUNCHER"
	SourceIWB                 Source = "IWB"
)

type sourceEntry struct {
	name Source
	code mdc.InputSource
}

// allSources is the full table in the order displays list them.
var allSources = []sourceEntry{
	{SourceNone, mdc.InputNone},
	{SourceSVideo, mdc.InputSVideo},
	{SourceComponent, mdc.InputComponent},
	{SourceAV, mdc.InputAV},
	{SourceAV2, mdc.InputAV2},
	{SourceSCART1, mdc.InputSCART1},
	{SourceDVI, mdc.InputDVI},
	{SourcePC, mdc.InputPC},
	{SourceBNC, mdc.InputBNC},
	{SourceDVIVideo, mdc.InputDVIVideo},
	{SourceMagicInfo, mdc.InputMagicInfo},
	{SourceHDMI1, mdc.InputHDMI1},
	{SourceHDMI1PC, mdc.InputHDMI1PC},
	{SourceHDMI2, mdc.InputHDMI2},
	{SourceHDMI2PC, mdc.InputHDMI2PC},
	{SourceDisplayPort1, mdc.InputDisplayPort1},
	{SourceDisplayPort2, mdc.InputDisplayPort2},
	{SourceDisplayPort3, mdc.InputDisplayPort3},
	{SourceRFTV, mdc.InputRFTV},
	{SourceHDMI3, mdc.InputHDMI3},
	{SourceHDMI3PC, mdc.InputHDMI3PC},
	{SourceHDMI4, mdc.InputHDMI4},
	{SourceHDMI4PC, mdc.InputHDMI4PC},
	{SourceTVDTV, mdc.InputTVDTV},
	{SourcePlugInMode, mdc.InputPlugInMode},
	{SourceHDBaseT, mdc.InputHDBaseT},
	{SourceMediaMagicInfoS, mdc.InputMediaMagicInfoS},
	{SourceWiDiScreenMirroring, mdc.InputWiDiScreenMirroring},
	{SourceInternalUSB, mdc.InputInternalUSB},
	{SourceURLLauncher, mdc.InputURLLauncher},
	{SourceIWB, mdc.InputIWB},
}

var (
	codeByName = make(map[Source]mdc.InputSource, len(allSources))
	nameByCode = make(map[mdc.InputSource]Source, len(allSources))
)

func init() {
	for _, e := range allSources {
		codeByName[e.name] = e.code
		nameByCode[e.code] = e.name
	}
}

// SourceTable is the set of sources a display accepts.
type SourceTable struct {
	order []Source
	codes map[Source]mdc.InputSource
}

// NewSourceTable builds a table restricted to allowed. An empty list
// selects every known source.
func NewSourceTable(allowed []Source) (*SourceTable, error) {
	t := &SourceTable{codes: make(map[Source]mdc.InputSource)}

	if len(allowed) == 0 {
		for _, e := range allSources {
			t.order = append(t.order, e.name)
			t.codes[e.name] = e.code
		}
		return t, nil
	}

	for _, name := range allowed {
		code, ok := codeByName[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown source %q", ErrInvalidArgument, name)
		}
		if _, dup := t.codes[name]; dup {
			continue
		}
		t.order = append(t.order, name)
		t.codes[name] = code
	}
	return t, nil
}

// Code returns the wire code for name if the table contains it.
func (t *SourceTable) Code(name Source) (mdc.InputSource, bool) {
	code, ok := t.codes[name]
	return code, ok
}

// List returns the sources in display order.
func (t *SourceTable) List() []Source {
	return append([]Source(nil), t.order...)
}

// SourceName returns the identifier for a wire code reported by a display.
func SourceName(code mdc.InputSource) (Source, bool) {
	name, ok := nameByCode[code]
	return name, ok
}
