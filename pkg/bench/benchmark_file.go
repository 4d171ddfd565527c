package bench

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/defenseunicorns/perfkit-hub/pkg/types"
)

// Disk types understood by every provider.
const (
	DiskEphemeralHDD          = "ephemeral_hdd"
	DiskEphemeralSSD          = "ephemeral_ssd"
	DiskBuildingReplicatedHDD = "building_replicated_hdd"
	DiskBuildingReplicatedSSD = "building_replicated_ssd"
)

// deprecatedDiskTypes maps old disk type names to their replacements.
var deprecatedDiskTypes = map[string]string{
	"standard":   DiskBuildingReplicatedHDD,
	"remote_ssd": DiskBuildingReplicatedSSD,
	"piops":      DiskBuildingReplicatedSSD,
	"local":      DiskEphemeralSSD,
}

// DiskSpec describes the disks attached to each VM of a group.
type DiskSpec struct {
	DiskType   string `yaml:"disk_type,omitempty"`
	MountPoint string `yaml:"mount_point,omitempty"`
	// DiskSize is in GB.
	DiskSize int `yaml:"disk_size,omitempty"`
	// NumStripedDisks is the number of disks striped together. 0 means 1.
	NumStripedDisks int `yaml:"num_striped_disks,omitempty"`
}

// VMGroup is a set of identical VMs. VMSpec and DiskSpec are keyed by cloud provider.
type VMGroup struct {
	VMSpec   map[string]map[string]any `yaml:"vm_spec,omitempty"`
	DiskSpec map[string]DiskSpec       `yaml:"disk_spec,omitempty"`
	Cloud    string                    `yaml:"cloud,omitempty"`
	OSType   string                    `yaml:"os_type,omitempty"`
	VMCount  int                       `yaml:"vm_count"`
}

// BenchmarkFile is the benchmark configuration file handed to the benchmarking tool with
// --benchmark_config_file.
type BenchmarkFile struct {
	Flags       map[string]any     `yaml:"flags,omitempty"`
	VMGroups    map[string]VMGroup `yaml:"vm_groups"`
	Name        string             `yaml:"-"`
	Description string             `yaml:"description,omitempty"`
}

// Normalize validates the file and rewrites deprecated disk type names, logging a warning for
// each one.
func (b *BenchmarkFile) Normalize(logger types.Logger) error {
	if logger == nil {
		return fmt.Errorf("logger cannot be nil")
	}
	if b.Name == "" {
		return errors.New("benchmark name cannot be empty")
	}
	if len(b.VMGroups) == 0 {
		return fmt.Errorf("benchmark %s has no vm groups", b.Name)
	}
	var errs []error
	for _, name := range slices.Sorted(maps.Keys(b.VMGroups)) {
		group := b.VMGroups[name]
		if group.VMCount < 0 {
			errs = append(errs, fmt.Errorf("vm group %s: vm_count cannot be negative, got %d", name, group.VMCount))
		}
		for cloud, disk := range group.DiskSpec {
			if disk.NumStripedDisks < 0 {
				errs = append(errs, fmt.Errorf("vm group %s: %s num_striped_disks must be at least 1, got %d",
					name, cloud, disk.NumStripedDisks))
			}
			if disk.DiskSize < 0 {
				errs = append(errs, fmt.Errorf("vm group %s: %s disk_size cannot be negative, got %d",
					name, cloud, disk.DiskSize))
			}
			if replacement, ok := deprecatedDiskTypes[disk.DiskType]; ok {
				logger.Warn("Disk type name is deprecated",
					zap.String("vm_group", name),
					zap.String("disk_type", disk.DiskType),
					zap.String("replacement", replacement))
				disk.DiskType = replacement
				group.DiskSpec[cloud] = disk
			}
		}
	}
	return errors.Join(errs...)
}

// Marshal normalizes the file and renders it as YAML keyed by the benchmark name.
func (b *BenchmarkFile) Marshal(logger types.Logger) ([]byte, error) {
	if err := b.Normalize(logger); err != nil {
		return nil, fmt.Errorf("invalid benchmark file: %w", err)
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]*BenchmarkFile{b.Name: b}); err != nil {
		return nil, fmt.Errorf("failed to encode benchmark file: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode benchmark file: %w", err)
	}
	return buf.Bytes(), nil
}

// Write renders the file to path.
func (b *BenchmarkFile) Write(path string, logger types.Logger) error {
	data, err := b.Marshal(logger)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write benchmark file %s: %w", path, err)
	}
	return nil
}

// ReadBenchmarkFile parses a benchmark configuration file holding exactly one benchmark.
func ReadBenchmarkFile(path string) (*BenchmarkFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read benchmark file: %w", err)
	}
	var doc map[string]*BenchmarkFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode benchmark file %s: %w", path, err)
	}
	if len(doc) != 1 {
		return nil, fmt.Errorf("benchmark file %s must hold exactly one benchmark, found %d", path, len(doc))
	}
	for name, b := range doc {
		if b == nil {
			b = &BenchmarkFile{}
		}
		b.Name = name
		return b, nil
	}
	return nil, nil
}
