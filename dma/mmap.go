package dma

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Open opens the channel for cfg.Driver. The memory map artifact at
// cfg.MemMapPath is loaded when present and generated when absent. When
// the first open fails the artifact is deleted and regenerated once.
func Open(cfg Config) (Channel, error) {
	factory, err := lookup(cfg.Driver)
	if err != nil {
		return nil, err
	}

	if cfg.MemMapPath == "" {
		return factory(cfg)
	}

	ch, err := openWithMemMap(factory, cfg)
	if err == nil {
		return ch, nil
	}

	log.Warn().Err(err).Str("mmap", cfg.MemMapPath).Msg("opening channel failed, attempting to regenerate memory map")
	if rmErr := os.Remove(cfg.MemMapPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		return nil, fmt.Errorf("remove memory map %s: %w", cfg.MemMapPath, rmErr)
	}

	ch, genErr := generate(factory, cfg)
	if genErr != nil {
		return nil, fmt.Errorf("channel init: %w (after: %v)", genErr, err)
	}
	return ch, nil
}

func openWithMemMap(factory Factory, cfg Config) (Channel, error) {
	ranges, err := LoadMemMap(cfg.MemMapPath)
	if errors.Is(err, os.ErrNotExist) {
		log.Info().Str("mmap", cfg.MemMapPath).Msg("no memory map, attempting to generate")
		return generate(factory, cfg)
	}
	if err != nil {
		return nil, err
	}

	log.Info().Str("mmap", cfg.MemMapPath).Int("ranges", len(ranges)).Msg("memory map found, loading")
	cfg.MemMap = ranges
	return factory(cfg)
}

// generate opens the channel without a map, asks the device for its
// memory layout and persists it. The open channel is kept.
func generate(factory Factory, cfg Config) (Channel, error) {
	cfg.MemMap = nil
	ch, err := factory(cfg)
	if err != nil {
		return nil, err
	}

	ranges, err := ch.MapMemory()
	if err == nil && len(ranges) == 0 {
		err = ErrEmptyMemMap
	}
	if err == nil {
		err = WriteMemMap(cfg.MemMapPath, ranges)
	}
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("unable to generate memory map: %w", err)
	}

	log.Info().Str("mmap", cfg.MemMapPath).Int("ranges", len(ranges)).Msg("memory map generated")
	return ch, nil
}

// WriteMemMap writes ranges in the "NNNN  start  -  end  ->  start" format.
func WriteMemMap(path string, ranges []Range) error {
	var sb strings.Builder
	for i, r := range ranges {
		fmt.Fprintf(&sb, "%04d  %x  -  %x  ->  %x\n", i, r.Start, r.End, r.Start)
	}
	return os.WriteFile(path, []byte(sb.String()), 0644)
}

// LoadMemMap parses a file written by WriteMemMap.
func LoadMemMap(path string) ([]Range, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var ranges []Range
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		r, err := parseMemMapLine(text)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		ranges = append(ranges, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(ranges) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyMemMap)
	}
	return ranges, nil
}

func parseMemMapLine(text string) (Range, error) {
	fields := strings.Fields(text)
	// 0000  1000  -  9efff  ->  1000
	if len(fields) != 6 || fields[2] != "-" || fields[4] != "->" {
		return Range{}, fmt.Errorf("malformed memory map line %q", text)
	}
	start, err := strconv.ParseUint(fields[1], 16, 64)
	if err != nil {
		return Range{}, fmt.Errorf("bad start address: %w", err)
	}
	end, err := strconv.ParseUint(fields[3], 16, 64)
	if err != nil {
		return Range{}, fmt.Errorf("bad end address: %w", err)
	}
	if end < start {
		return Range{}, fmt.Errorf("range end 0x%x before start 0x%x", end, start)
	}
	return Range{Start: start, End: end}, nil
}
