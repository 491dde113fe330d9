package mdc

// InputSource is the MDC input source code.
type InputSource byte

// Input source codes.
const (
	InputNone                InputSource = 0x00
	InputSVideo              InputSource = 0x04
	InputComponent           InputSource = 0x08
	InputAV                  InputSource = 0x0C
	InputAV2                 InputSource = 0x0D
	InputSCART1              InputSource = 0x0E
	InputDVI                 InputSource = 0x18
	InputPC                  InputSource = 0x14
	InputBNC                 InputSource = 0x1E
	InputDVIVideo            InputSource = 0x1F
	InputMagicInfo           InputSource = 0x20
	InputHDMI1               InputSource = 0x21
	InputHDMI1PC             InputSource = 0x22
	InputHDMI2               InputSource = 0x23
	InputHDMI2PC             InputSource = 0x24
	InputDisplayPort1        InputSource = 0x25
	InputDisplayPort2        InputSource = 0x26
	InputDisplayPort3        InputSource = 0x27
	InputRFTV                InputSource = 0x30
	InputHDMI3               InputSource = 0x31
	InputHDMI3PC             InputSource = 0x32
	InputHDMI4               InputSource = 0x33
	InputHDMI4PC             InputSource = 0x34
	InputTVDTV               InputSource = 0x40
	InputPlugInMode          InputSource = 0x50
	InputHDBaseT             InputSource = 0x55
	InputMediaMagicInfoS     InputSource = 0x60
	InputWiDiScreenMirroring InputSource = 0x61
	InputInternalUSB         InputSource = 0x62
	InputURLLauncher         InputSource = 0x63
	InputIWB                 InputSource = 0x64
)

var knownInputs = map[InputSource]struct{}{
	InputNone: {}, InputSVideo: {}, InputComponent: {}, InputAV: {},
	InputAV2: {}, InputSCART1: {}, InputDVI: {}, InputPC: {}, InputBNC: {},
	InputDVIVideo: {}, InputMagicInfo: {}, InputHDMI1: {}, InputHDMI1PC: {},
	InputHDMI2: {}, InputHDMI2PC: {}, InputDisplayPort1: {},
	InputDisplayPort2: {}, InputDisplayPort3: {}, InputRFTV: {},
	InputHDMI3: {}, InputHDMI3PC: {}, InputHDMI4: {}, InputHDMI4PC: {},
	InputTVDTV: {}, InputPlugInMode: {}, InputHDBaseT: {},
	InputMediaMagicInfoS: {}, InputWiDiScreenMirroring: {},
	InputInternalUSB: {}, InputURLLauncher: {}, InputIWB: {},
}

// Valid reports whether s is a code the protocol defines.
func (s InputSource) Valid() bool {
	_, ok := knownInputs[s]
	return ok
}
