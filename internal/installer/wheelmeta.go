package installer

import (
	"bufio"
	"fmt"
	"strings"
)

// WheelMeta is the parsed dist-info WHEEL file: RFC 822 style key/value
// headers, the same grammar as METADATA.
type WheelMeta struct {
	WheelVersion  string
	RootIsPurelib bool
	Tags          []string
}

// ParseWheelMeta parses a WHEEL file's contents. Unknown headers are
// ignored; repeated Tag headers accumulate.
func ParseWheelMeta(content []byte) (WheelMeta, error) {
	var meta WheelMeta

	scanner := bufio.NewScanner(strings.NewReader(string(content)))

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			break // header section ends at the first blank line
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}

		value = strings.TrimSpace(value)

		switch strings.ToLower(strings.TrimSpace(key)) {
		case "wheel-version":
			meta.WheelVersion = value
		case "root-is-purelib":
			meta.RootIsPurelib = strings.EqualFold(value, "true")
		case "tag":
			meta.Tags = append(meta.Tags, value)
		}
	}

	if err := scanner.Err(); err != nil {
		return WheelMeta{}, fmt.Errorf("reading WHEEL metadata: %w", err)
	}

	return meta, nil
}

// CheckWheelVersion rejects wheels written under a format major version
// this installer does not understand. Minor-version bumps are tolerated,
// per the wheel spec's forward-compatibility rule.
func CheckWheelVersion(meta WheelMeta) error {
	if meta.WheelVersion == "" {
		return nil // absent header: tolerated, as pip does
	}

	major, _, _ := strings.Cut(meta.WheelVersion, ".")
	if major != "1" {
		return fmt.Errorf("unsupported Wheel-Version %s", meta.WheelVersion)
	}

	return nil
}
