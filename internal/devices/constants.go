package devices

// Bond state labels shown next to a device entry.
const (
	LabelBonded    = "Bonded"
	LabelBonding   = "Bonding..."
	LabelNotBonded = "Not bonded"

	// LabelUnnamed is shown when a record somehow reaches a presenter without a name.
	LabelUnnamed = "Unnamed"
)

// Class of Device field masks (Bluetooth Assigned Numbers, Baseband).
const (
	classMajorMask  uint32 = 0x1F00
	classDeviceMask uint32 = 0x1FFC
)

// Major device classes.
const (
	majorComputer   uint32 = 0x0100
	majorPhone      uint32 = 0x0200
	majorAudioVideo uint32 = 0x0400
	majorHealth     uint32 = 0x0900
)

// Audio/video minor device classes (major | minor).
const (
	avWearableHeadset            uint32 = 0x0404
	avHandsfree                  uint32 = 0x0408
	avMicrophone                 uint32 = 0x0410
	avLoudspeaker                uint32 = 0x0414
	avHeadphones                 uint32 = 0x0418
	avPortableAudio              uint32 = 0x041C
	avCarAudio                   uint32 = 0x0420
	avSetTopBox                  uint32 = 0x0424
	avVCR                        uint32 = 0x042C
	avCamcorder                  uint32 = 0x0434
	avVideoMonitor               uint32 = 0x0438
	avVideoDisplayAndLoudspeaker uint32 = 0x043C
	avVideoConferencing          uint32 = 0x0440
	avVideoGamingToy             uint32 = 0x0448
)
