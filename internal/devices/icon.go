package devices

// Category is a coarse device kind derived from the Class of Device.
// It only drives presentation.
type Category string

// Device categories.
const (
	CategoryAudioVideo                 Category = "audio_video"
	CategoryHeadphones                 Category = "headphones"
	CategoryWearableHeadset            Category = "wearable_headset"
	CategoryHandsfree                  Category = "handsfree"
	CategoryCamcorder                  Category = "camcorder"
	CategoryVCR                        Category = "vcr"
	CategoryCarAudio                   Category = "car_audio"
	CategoryLoudspeaker                Category = "loudspeaker"
	CategoryMicrophone                 Category = "microphone"
	CategoryPortableAudio              Category = "portable_audio"
	CategorySetTopBox                  Category = "set_top_box"
	CategoryVideoConferencing          Category = "video_conferencing"
	CategoryVideoDisplayAndLoudspeaker Category = "video_display_and_loudspeaker"
	CategoryVideoGamingToy             Category = "video_gaming_toy"
	CategoryVideoMonitor               Category = "video_monitor"
	CategoryComputer                   Category = "computer"
	CategoryPhone                      Category = "phone"
	CategoryHealth                     Category = "health"
	CategoryUncategorized              Category = "uncategorized"
)

// Categories lists every known category in a stable order.
func Categories() []Category {
	return []Category{
		CategoryAudioVideo,
		CategoryHeadphones,
		CategoryWearableHeadset,
		CategoryHandsfree,
		CategoryCamcorder,
		CategoryVCR,
		CategoryCarAudio,
		CategoryLoudspeaker,
		CategoryMicrophone,
		CategoryPortableAudio,
		CategorySetTopBox,
		CategoryVideoConferencing,
		CategoryVideoDisplayAndLoudspeaker,
		CategoryVideoGamingToy,
		CategoryVideoMonitor,
		CategoryComputer,
		CategoryPhone,
		CategoryHealth,
		CategoryUncategorized,
	}
}

// Icon identifies the image a presenter should draw for a device.
type Icon string

// Icons.
const (
	IconHeadset         Icon = "headset"
	IconComputer        Icon = "computer"
	IconPhone           Icon = "phone"
	IconHealth          Icon = "health"
	IconVCR             Icon = "vcr"
	IconCar             Icon = "car"
	IconLoudspeaker     Icon = "loudspeaker"
	IconMicrophone      Icon = "microphone"
	IconPrinter         Icon = "printer"
	IconTopBox          Icon = "top_box"
	IconMeeting         Icon = "meeting"
	IconTV              Icon = "tv"
	IconGame            Icon = "game"
	IconWearableDevices Icon = "wearable_devices"
	IconBluetooth       Icon = "bluetooth"
)

// CategoryFromClass decodes a raw Class of Device.
// Audio/video minor classes are matched first, then the major class.
func CategoryFromClass(class uint32) Category {
	switch class & classDeviceMask {
	case avHeadphones:
		return CategoryHeadphones
	case avWearableHeadset:
		return CategoryWearableHeadset
	case avHandsfree:
		return CategoryHandsfree
	case avCamcorder:
		return CategoryCamcorder
	case avVCR:
		return CategoryVCR
	case avCarAudio:
		return CategoryCarAudio
	case avLoudspeaker:
		return CategoryLoudspeaker
	case avMicrophone:
		return CategoryMicrophone
	case avPortableAudio:
		return CategoryPortableAudio
	case avSetTopBox:
		return CategorySetTopBox
	case avVideoConferencing:
		return CategoryVideoConferencing
	case avVideoDisplayAndLoudspeaker:
		return CategoryVideoDisplayAndLoudspeaker
	case avVideoGamingToy:
		return CategoryVideoGamingToy
	case avVideoMonitor:
		return CategoryVideoMonitor
	}

	switch class & classMajorMask {
	case majorAudioVideo:
		return CategoryAudioVideo
	case majorComputer:
		return CategoryComputer
	case majorPhone:
		return CategoryPhone
	case majorHealth:
		return CategoryHealth
	default:
		return CategoryUncategorized
	}
}

// IconFor maps a category to its icon. Unknown categories get IconBluetooth.
func IconFor(c Category) Icon {
	switch c {
	case CategoryHeadphones, CategoryWearableHeadset, CategoryHandsfree, CategoryAudioVideo:
		return IconHeadset
	case CategoryComputer:
		return IconComputer
	case CategoryPhone:
		return IconPhone
	case CategoryHealth:
		return IconHealth
	case CategoryCamcorder, CategoryVCR:
		return IconVCR
	case CategoryCarAudio:
		return IconCar
	case CategoryLoudspeaker:
		return IconLoudspeaker
	case CategoryMicrophone:
		return IconMicrophone
	case CategoryPortableAudio:
		return IconPrinter
	case CategorySetTopBox:
		return IconTopBox
	case CategoryVideoConferencing:
		return IconMeeting
	case CategoryVideoDisplayAndLoudspeaker:
		return IconTV
	case CategoryVideoGamingToy:
		return IconGame
	case CategoryVideoMonitor:
		return IconWearableDevices
	default:
		return IconBluetooth
	}
}

// IconForClass is IconFor(CategoryFromClass(class)).
func IconForClass(class uint32) Icon {
	return IconFor(CategoryFromClass(class))
}
