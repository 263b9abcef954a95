package upload_test

import (
	"errors"

	"mediaindex/internal/mediasvc/emulator"
)

func emulatorUploadFault(file string) emulator.Faults {
	return emulator.Faults{Upload: func(_, name string) error {
		if name == file {
			return errors.New("upload refused")
		}
		return nil
	}}
}
