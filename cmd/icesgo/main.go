// Command icesgo is a live audio source client: it reads from one
// configured input (a PCM device or an Ogg/Vorbis playlist) and streams it
// to one or more Icecast-style servers, reconnecting and re-encoding as
// configured. Grounded on ices.c's main(), translated from its
// parse-config/install-signals/spawn-threads/join shape into goroutines.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"syscall"

	"sujoyan/icesgo/internal/config"
	"sujoyan/icesgo/internal/coordinator"
	"sujoyan/icesgo/internal/icelog"
	"sujoyan/icesgo/internal/input"
	"sujoyan/icesgo/internal/instance"
	"sujoyan/icesgo/internal/metadata"
	"sujoyan/icesgo/internal/pidfile"
	"sujoyan/icesgo/internal/producer"
	"sujoyan/icesgo/internal/signals"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s <config.xml>\n", os.Args[0])
	}
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(flag.Arg(0))
	if err != nil {
		log.Fatalf("icesgo: %v", err)
	}

	if cfg.Background {
		daemonize()
	}

	logWriter := openLogWriter(cfg)
	icelog.SetDefaultLevel(icelog.Level(cfg.LogLevel))

	if cfg.PidFile != "" {
		if err := pidfile.Write(cfg.PidFile); err != nil {
			log.Fatalf("icesgo: writing pidfile: %v", err)
		}
		defer pidfile.Remove(cfg.PidFile)
	}

	ctx := coordinator.New()
	inputLog := icelog.New("input", logWriter)

	mod, err := buildInputModule(cfg, inputLog)
	if err != nil {
		log.Fatalf("icesgo: building input module %q: %v", cfg.Stream.Input.Module, err)
	}

	instances := make([]*instance.Instance, 0, len(cfg.Stream.Instance))
	for i, instCfg := range cfg.Stream.Instance {
		name := fmt.Sprintf("%s:%d%s", instCfg.Hostname, instCfg.Port, instCfg.Mount)
		inst, err := instance.New(name, instCfg, cfg.Stream.Metadata, mod, icelog.New(name, logWriter), ctx)
		if err != nil {
			log.Fatalf("icesgo: instance %d (%s): %v", i, name, err)
		}
		instances = append(instances, inst)
	}
	if len(instances) == 0 {
		log.Fatalf("icesgo: no usable instances configured")
	}

	for _, inst := range instances {
		go inst.Run()
	}

	watcher := buildMetadataWatcher(cfg, ctx, icelog.New("metadata", logWriter))
	if watcher != nil {
		go forwardMetadataUpdates(watcher, mod, instances)
	}

	stopSignals := signals.Setup(signals.Handlers{
		OnHangup: func() {
			mod.HandleEvent(input.EventNextTrack, nil)
		},
		OnMetadataUpdate: func() {
			ctx.SignalMetadataPending()
		},
		OnShutdown: func() {
			ctx.RequestShutdown()
		},
	})
	defer stopSignals()

	consumers := make([]producer.Consumer, len(instances))
	for i, inst := range instances {
		consumers[i] = inst
	}
	prod := producer.New(mod, consumers, ctx, icelog.New("producer", logWriter))
	prod.Run()

	if watcher != nil {
		watcher.Stop()
	}
	os.Exit(0)
}

// openLogWriter opens the configured log file, falling back to stderr per
// DEFAULT_LOG_STDERR when logstderr is set or the file can't be opened.
func openLogWriter(cfg *config.Config) io.Writer {
	if cfg.LogStderr {
		return os.Stderr
	}
	path := filepath.Join(cfg.LogPath, cfg.LogFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Printf("icesgo: couldn't open log file %s, falling back to stderr: %v", path, err)
		return os.Stderr
	}
	return f
}

// buildInputModule constructs the configured input module by name, the Go
// counterpart of inputmodule.c's name-to-constructor table (§4.4, §9
// "register modules by string name in a table").
func buildInputModule(cfg *config.Config, log *icelog.Logger) (input.Module, error) {
	params := make([]input.Param, len(cfg.Stream.Input.Param))
	for i, p := range cfg.Stream.Input.Param {
		params[i] = input.Param{Name: p.Name, Value: p.Value}
	}

	switch cfg.Stream.Input.Module {
	case "stdinpcm":
		return input.NewStdinPCM(os.Stdin, params), nil
	case "playlist":
		return input.NewPlaylist(params, log)
	case "wavplaylist":
		return input.NewWAVPlaylist(params, log)
	default:
		return nil, fmt.Errorf("unknown input module %q", cfg.Stream.Input.Module)
	}
}

// buildMetadataWatcher opens the configured metadata side-channel: the
// named file if metadatafilename is set (read once per SIGUSR1, via the
// event-pending condition), else stdin when running in the foreground. It
// returns nil when neither applies (backgrounded with no metadata file).
func buildMetadataWatcher(cfg *config.Config, ctx *coordinator.Context, log *icelog.Logger) *metadata.Watcher {
	if cfg.MetadataFilename != "" {
		wait := func() bool {
			ctx.WaitMetadataPending()
			return !ctx.Shutdown()
		}
		return metadata.NewFileWatcher(cfg.MetadataFilename, wait, log)
	}
	if !cfg.Background && cfg.Stream.Input.Module != "stdinpcm" {
		// stdin belongs to the input module when it's the PCM source.
		return metadata.NewWatcher(os.Stdin, log)
	}
	return nil
}

// forwardMetadataUpdates relays metadata updates to the input module and
// refreshes every instance's pending Vorbis comments, matching
// process_and_send's "refresh comments via input.metadata_update if
// supported" step (§4.7).
func forwardMetadataUpdates(w *metadata.Watcher, mod input.Module, instances []*instance.Instance) {
	for upd := range w.Updates() {
		comments := map[string]string{}
		if len(upd) > 0 {
			comments["TITLE"] = upd[0]
		}
		if len(upd) > 1 {
			comments["ARTIST"] = upd[1]
		}
		for _, inst := range instances {
			inst.SetComments(comments)
		}
		mod.HandleEvent(input.EventMetadataUpdate, upd)
	}
}

// daemonize re-execs the process detached from the controlling terminal
// when <background> is set, matching ices.c's fork/setsid startup path
// (Go has no raw fork(); re-exec with a fresh session is the idiomatic
// substitute).
func daemonize() {
	if os.Getenv("ICESGO_DAEMONIZED") == "1" {
		return
	}
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		log.Fatalf("icesgo: daemonize: opening %s: %v", os.DevNull, err)
	}
	defer devNull.Close()

	exe, err := os.Executable()
	if err != nil {
		log.Fatalf("icesgo: daemonize: %v", err)
	}

	proc, err := os.StartProcess(exe, os.Args, &os.ProcAttr{
		Env:   append(os.Environ(), "ICESGO_DAEMONIZED=1"),
		Files: []*os.File{devNull, devNull, devNull},
		Sys:   &syscall.SysProcAttr{Setsid: true},
	})
	if err != nil {
		log.Fatalf("icesgo: daemonize: %v", err)
	}
	proc.Release()
	os.Exit(0)
}
