package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/audiolibrelab/meetrec/internal/audio"
)

// skipSystemQueries turn system audio off when given as the system device
var skipSystemQueries = map[string]bool{"disabled": true, "none": true, "off": true, "-1": true}

// deviceSelector resolves the microphone and system devices from flags, config
// or an interactive prompt
type deviceSelector struct {
	devices     []audio.Device
	defaultDev  audio.Device
	interactive bool
	in          *bufio.Scanner
	out         io.Writer
}

func newDeviceSelector(devices []audio.Device, defaultDev audio.Device, interactive bool, in io.Reader, out io.Writer) *deviceSelector {
	return &deviceSelector{
		devices:     devices,
		defaultDev:  defaultDev,
		interactive: interactive,
		in:          bufio.NewScanner(in),
		out:         out,
	}
}

// microphone returns the device named by query, the host default when query
// is empty, or the user's choice in interactive mode
func (s *deviceSelector) microphone(query string) (audio.Device, error) {
	if query != "" {
		return audio.FindDevice(s.devices, query)
	}
	if s.interactive {
		return s.prompt("Select the microphone", false)
	}
	if s.defaultDev != nil {
		return s.defaultDev, nil
	}
	for _, d := range s.devices {
		if !d.Info().Loopback {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: no input device available", audio.ErrDeviceNotFound)
}

// system returns the loopback device to record, or nil to skip system audio.
// Without a query the first loopback device is used.
func (s *deviceSelector) system(query string, mic audio.Device) (audio.Device, error) {
	query = strings.TrimSpace(query)
	if skipSystemQueries[strings.ToLower(query)] {
		return nil, nil
	}
	if query != "" {
		d, err := audio.FindDevice(s.devices, query)
		if err != nil {
			return nil, err
		}
		if sameDevice(d, mic) {
			return nil, fmt.Errorf("system device %q is already used as the microphone", d.Info().Name)
		}
		return d, nil
	}
	if s.interactive {
		d, err := s.prompt("Select the system audio device (-1 to skip)", true)
		if err != nil || d == nil {
			return nil, err
		}
		if sameDevice(d, mic) {
			return nil, fmt.Errorf("system device %q is already used as the microphone", d.Info().Name)
		}
		return d, nil
	}
	for _, d := range s.devices {
		if d.Info().Loopback && !sameDevice(d, mic) {
			return d, nil
		}
	}
	return nil, nil
}

// prompt lists the devices and reads an index until a valid one is entered
func (s *deviceSelector) prompt(title string, allowSkip bool) (audio.Device, error) {
	fmt.Fprintf(s.out, "\n%s:\n", title)
	printDevices(s.out, s.devices)

	for {
		fmt.Fprint(s.out, "Index: ")
		if !s.in.Scan() {
			if err := s.in.Err(); err != nil {
				return nil, fmt.Errorf("failed to read selection: %w", err)
			}
			return nil, errors.New("no device selected")
		}

		answer := strings.TrimSpace(s.in.Text())
		idx, err := strconv.Atoi(answer)
		if err != nil {
			fmt.Fprintf(s.out, "%q is not a number\n", answer)
			continue
		}
		if idx == -1 && allowSkip {
			return nil, nil
		}
		d, err := audio.FindDevice(s.devices, answer)
		if err != nil {
			fmt.Fprintf(s.out, "No device with index %d\n", idx)
			continue
		}
		return d, nil
	}
}

func sameDevice(a, b audio.Device) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Info().Index == b.Info().Index && a.Info().Name == b.Info().Name
}

// printDevices writes one line per device: index, name, channels, rate, flags
func printDevices(w io.Writer, devices []audio.Device) {
	for _, d := range devices {
		info := d.Info()
		var flags []string
		if info.Default {
			flags = append(flags, "default")
		}
		if info.Loopback {
			flags = append(flags, "loopback")
		}
		line := fmt.Sprintf("  %2d. %s (%d ch, %d Hz)", info.Index, info.Name, info.Channels, info.SampleRate)
		if len(flags) > 0 {
			line += " [" + strings.Join(flags, ", ") + "]"
		}
		fmt.Fprintln(w, line)
	}
}
