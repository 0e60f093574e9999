// Package config loads icesgo's XML configuration document. Grounded on
// cfgparse.c's DEFAULT_* constants and _set_instance_defaults, translated
// from libxml2 SAX callbacks into encoding/xml struct tags, which already
// tolerates unknown elements the way §6 requires without an extra
// validation pass.
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"strings"
)

// Defaults, ported verbatim from cfgparse.c's DEFAULT_* macros.
const (
	DefaultLogPath     = "/tmp"
	DefaultLogFile     = "ices.log"
	DefaultLogLevel    = 1
	DefaultStreamName  = "unnamed ices stream"
	DefaultStreamGenre = "ices unset"
	DefaultStreamDesc  = "no description set"
	DefaultHostname    = "localhost"
	DefaultPort        = 8000
	DefaultPassword    = "password"
	DefaultUsername    = "source"
	DefaultMount       = "/stream.ogg"
	DefaultQuality     = 3.0
	DefaultReconnDelay = 2
	DefaultReconnTries = 10
	DefaultMaxQueueLen = 100

	// DefaultBitrate is cfgparse.c's "unset" sentinel for the three
	// min/nominal/max bitrate knobs: -1 means "let quality decide" (§6, §4.3).
	DefaultBitrate = -1
)

// Config is the root configuration document (spec §6).
type Config struct {
	XMLName     xml.Name  `xml:"ices"`
	Background  bool      `xml:"background"`
	PidFile     string    `xml:"pidfile"`
	LogPath     string    `xml:"logging>path"`
	LogFile     string    `xml:"logging>logfile"`
	LogLevel    int       `xml:"logging>loglevel"`
	LogStderr   bool      `xml:"logging>logstderr"`
	// MetadataFilename names a FIFO or plain file the metadata watcher reads
	// from; empty means "watch stdin instead, unless running backgrounded"
	// (§6 metadata side-channel).
	MetadataFilename string    `xml:"metadatafilename"`
	Stream           StreamDoc `xml:"stream"`
}

// StreamDoc holds the input module and every output instance, per §6.
type StreamDoc struct {
	Metadata StreamMetadata `xml:"metadata"`
	Input    Input          `xml:"input"`
	Instance []Instance     `xml:"instance"`
}

// StreamMetadata carries the default name/genre/description/url used for
// any instance that does not override them.
type StreamMetadata struct {
	Name        string `xml:"name"`
	Genre       string `xml:"genre"`
	Description string `xml:"description"`
	URL         string `xml:"url"`
}

// Input configures the producer's input module (§4.4).
type Input struct {
	Module string        `xml:"module,attr"`
	Param  []ModuleParam `xml:"param"`
}

// ModuleParam is one name/value pair passed through to an input module.
type ModuleParam struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

// Lookup returns the value of the named param, and whether it was present.
func (in Input) Lookup(name string) (string, bool) {
	for _, p := range in.Param {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

// EncodeParams configures the Vorbis encoder for an instance (§4.3, §4.6).
// The three bitrates are pointers so Load can tell "absent from the XML"
// (defaults to DefaultBitrate, -1) apart from "explicitly set to 0".
type EncodeParams struct {
	Quality    *float32 `xml:"quality"`
	Managed    bool     `xml:"managed"`
	MinBitrate *int     `xml:"minimum-bitrate"`
	NomBitrate *int     `xml:"nominal-bitrate"`
	MaxBitrate *int     `xml:"maximum-bitrate"`

	// Channels/SampleRate are the explicit §6 <encode> overrides for the
	// output stream shape; zero means "derive from input/downmix".
	Channels   int `xml:"channels"`
	SampleRate int `xml:"samplerate"`

	// FlushSamples is §4.3's max_samples_ppage forced-flush threshold; zero
	// means "default to the output rate, clamped >= rate/100".
	FlushSamples int `xml:"flush-samples"`
}

// ResampleParams configures the resampler for an instance (§4.3).
type ResampleParams struct {
	InRate  int `xml:"in-rate"`
	OutRate int `xml:"out-rate"`
}

// LocalMetadata overrides StreamMetadata for one instance.
type LocalMetadata struct {
	Name        *string `xml:"name"`
	Genre       *string `xml:"genre"`
	Description *string `xml:"description"`
	URL         *string `xml:"url"`
}

// Instance is one remote server this stream is sent to (§6, §4.6).
type Instance struct {
	Hostname  string         `xml:"hostname"`
	Port      int            `xml:"port"`
	Password  string         `xml:"password"`
	Username  string         `xml:"username"`
	Mount     string         `xml:"mount"`
	Public    bool           `xml:"public"`
	Reencode  bool           `xml:"reencode"`
	Downmix   bool           `xml:"downmix"`
	Encode    EncodeParams   `xml:"encode"`
	Resample  ResampleParams `xml:"resample"`
	SaveFile  string         `xml:"savefilename"`
	ReconnDelay int          `xml:"reconnectdelay"`
	ReconnTries int          `xml:"reconnectattempts"`
	// RetryInitial gates whether Connect's first attempt is retried at all
	// (§6 "retry-initial"); default false means a failed first connection
	// is fatal for the instance.
	RetryInitial bool         `xml:"retry-initial"`
	MaxQueueLen int          `xml:"maxqueuelength"`
	Metadata    LocalMetadata `xml:"metadata"`
}

// Load reads and parses an icesgo configuration document from path,
// applying every default cfgparse.c would have set, and validates the one
// invariant the original hard-fails on: every mount point must start with
// "/".
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg := &Config{
		LogPath:  DefaultLogPath,
		LogFile:  DefaultLogFile,
		LogLevel: DefaultLogLevel,
	}
	if err := xml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if cfg.Stream.Metadata.Name == "" {
		cfg.Stream.Metadata.Name = DefaultStreamName
	}
	if cfg.Stream.Metadata.Genre == "" {
		cfg.Stream.Metadata.Genre = DefaultStreamGenre
	}
	if cfg.Stream.Metadata.Description == "" {
		cfg.Stream.Metadata.Description = DefaultStreamDesc
	}

	if len(cfg.Stream.Instance) == 0 {
		return nil, fmt.Errorf("config: %s declares no <instance> elements", path)
	}

	for i := range cfg.Stream.Instance {
		inst := &cfg.Stream.Instance[i]
		if inst.Hostname == "" {
			inst.Hostname = DefaultHostname
		}
		if inst.Port == 0 {
			inst.Port = DefaultPort
		}
		if inst.Password == "" {
			inst.Password = DefaultPassword
		}
		if inst.Username == "" {
			inst.Username = DefaultUsername
		}
		if inst.Mount == "" {
			inst.Mount = DefaultMount
		}
		if !strings.HasPrefix(inst.Mount, "/") {
			return nil, fmt.Errorf("config: instance %d: mount %q must start with /", i, inst.Mount)
		}
		if inst.Encode.Quality == nil {
			q := float32(DefaultQuality)
			inst.Encode.Quality = &q
		}
		if inst.Encode.MinBitrate == nil {
			b := DefaultBitrate
			inst.Encode.MinBitrate = &b
		}
		if inst.Encode.NomBitrate == nil {
			b := DefaultBitrate
			inst.Encode.NomBitrate = &b
		}
		if inst.Encode.MaxBitrate == nil {
			b := DefaultBitrate
			inst.Encode.MaxBitrate = &b
		}
		if inst.ReconnDelay == 0 {
			inst.ReconnDelay = DefaultReconnDelay
		}
		if inst.ReconnTries == 0 {
			inst.ReconnTries = DefaultReconnTries
		}
		if inst.MaxQueueLen == 0 {
			inst.MaxQueueLen = DefaultMaxQueueLen
		}
	}

	return cfg, nil
}
