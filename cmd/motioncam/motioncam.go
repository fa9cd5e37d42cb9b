package main

import (
	"fmt"
	"os"

	"github.com/akamensky/argparse"
	"github.com/coreos/go-systemd/daemon"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/motioncam/server/camera"
	"github.com/cyclopcam/motioncam/server/config"
	"github.com/cyclopcam/motioncam/server/controller"
	"github.com/cyclopcam/motioncam/server/detect"
	"github.com/cyclopcam/motioncam/server/eventdb"
	"github.com/cyclopcam/motioncam/server/recorder"
	"github.com/cyclopcam/motioncam/server/videox"
)

func main() {
	parser := argparse.NewParser("motioncam", "Motion-triggered camera recorder")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Configuration file (JSON)", Default: ""})
	cameraID := parser.Int("", "camera", &argparse.Options{Help: "Camera index override", Default: -1})
	sensitivity := parser.String("", "sensitivity", &argparse.Options{Help: "Detection sensitivity override (very_low, low, medium, high, very_high)", Default: ""})
	detectorKind := parser.String("", "detector", &argparse.Options{Help: "Detector override (background, wave)", Default: ""})
	listSensitivities := parser.Flag("", "list-sensitivities", &argparse.Options{Help: "List sensitivity levels and exit", Default: false})
	skipCameraTest := parser.Flag("", "skip-camera-test", &argparse.Options{Help: "Skip the camera preflight check", Default: false})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Errorf("Failed to load config: %v", err)
		os.Exit(1)
	}
	if *cameraID >= 0 {
		cfg.Camera.ID = *cameraID
	}
	if *sensitivity != "" {
		cfg.Detection.Sensitivity = *sensitivity
	}
	if *detectorKind != "" {
		cfg.Detection.Kind = *detectorKind
	}
	if err := cfg.Validate(); err != nil {
		logger.Errorf("Invalid config: %v", err)
		os.Exit(1)
	}

	if *listSensitivities {
		fmt.Println(config.DescribeSensitivities(cfg.Detection.Sensitivity))
		return
	}

	if !*skipCameraTest && !camera.TestCamera(cfg.Camera.ID) {
		logger.Errorf("Camera %v did not respond to a preflight test. Is it connected?", cfg.Camera.ID)
		os.Exit(1)
	}

	transcoder, err := videox.NewFFmpeg()
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	events, err := eventdb.NewEventDB(logger, cfg.EventDBPath)
	if err != nil {
		logger.Errorf("Failed to open event database: %v", err)
		os.Exit(1)
	}

	detector, err := detect.NewDetector(logger, cfg.Detection)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	profile := cfg.Profile()
	logger.Infof("Detector %v, sensitivity %v (threshold %v px, cooldown %v)", cfg.Detection.Kind, profile.Label, profile.Threshold, profile.Cooldown)

	frames := camera.NewFrameSource(logger, camera.NewRpicamSource(), camera.StreamConfig{
		CameraID:  cfg.Camera.ID,
		Width:     cfg.Camera.Width,
		Height:    cfg.Camera.Height,
		FrameRate: cfg.Camera.FrameRate,
	})
	prebuffer := camera.NewPreBuffer(logger, cfg.PreBufferCapacity())
	rec := recorder.NewRecorder(logger, cfg, transcoder, transcoder, recorder.NewRpicamLauncher(cfg), events, prebuffer)

	ctrl := controller.NewController(logger, cfg, frames, detector, prebuffer, rec, events)
	ctrl.ListenForKillSignals()

	// Tell systemd that we're alive
	daemon.SdNotify(false, daemon.SdNotifyReady)

	if err := ctrl.Run(); err != nil {
		logger.Criticalf("%v", err)
		os.Exit(1)
	}
}
