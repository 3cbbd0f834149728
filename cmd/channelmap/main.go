// Command channelmap prints the channel map of the transport station with
// the resolved register addresses as YAML.
package main

import (
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/KevinKickass/OpenTransportCore/internal/station"
)

type roleEntry struct {
	Role     int    `yaml:"role"`
	Bit      int    `yaml:"bit"`
	Output   uint16 `yaml:"output_register"`
	Input    uint16 `yaml:"input_register"`
	BitInReg int    `yaml:"bit_in_register"`
}

type channelEntry struct {
	ID    string      `yaml:"id"`
	Kind  string      `yaml:"kind"`
	Roles []roleEntry `yaml:"roles"`
}

func main() {
	kind := flag.String("kind", "", "only print devices of this kind (conveyor, switch, separator)")
	flag.Parse()

	entries, err := buildEntries(*kind)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()

	if err := enc.Encode(map[string][]channelEntry{"channels": entries}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildEntries(kind string) ([]channelEntry, error) {
	var entries []channelEntry
	for _, ch := range station.Channels() {
		if kind != "" && ch.Kind.String() != kind {
			continue
		}

		entry := channelEntry{ID: string(ch.ID), Kind: ch.Kind.String()}
		for role, bit := range ch.Bits() {
			addr, err := station.AddressOf(bit)
			if err != nil {
				return nil, fmt.Errorf("%s role %d: %w", ch.ID, role, err)
			}
			entry.Roles = append(entry.Roles, roleEntry{
				Role:     role,
				Bit:      bit,
				Output:   station.OutputBase + uint16(addr.Offset),
				Input:    station.InputBase + uint16(addr.Offset),
				BitInReg: addr.Bit,
			})
		}
		entries = append(entries, entry)
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("no devices of kind %q", kind)
	}
	return entries, nil
}
