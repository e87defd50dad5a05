package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"github.com/deskbound/deskctl/pkg/config"
	"github.com/deskbound/deskctl/pkg/desk"
)

func parseHeightArg(args []string) (float64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("invalid number of arguments")
	}

	cm, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid height: %v", err)
	}

	return cm, nil
}

func cmToMM(cm float64) int {
	return int(cm*10 + 0.5)
}

// session is a direct BLE connection to the desk, used when the daemon
// is not in the way. Close it when done.
type session struct {
	conf    *config.File
	conn    *desk.BLEConn
	ctrl    *desk.Controller
	tracker *desk.Tracker
}

func openSession() (*session, error) {
	conf, err := config.NewFile(configPath)
	if err != nil {
		return nil, err
	}

	tracker := desk.NewTracker(0)
	conn, err := desk.Dial(bluetooth.DefaultAdapter, desk.DialOptions{
		Address:    conf.DeviceAddress(),
		WriteUUID:  conf.WriteUUID(),
		NotifyUUID: conf.NotifyUUID(),
		OnReading:  tracker.Publish,
	})
	if err != nil {
		return nil, err
	}

	cmds, err := desk.ParseCommands(conf.Commands())
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	ctrl := desk.NewController(conn, cmds)

	// Wake the desk so it starts reporting heights.
	_ = ctrl.Stop()
	_ = ctrl.RequestHeight()

	return &session{conf: conf, conn: conn, ctrl: ctrl, tracker: tracker}, nil
}

func (s *session) Close() {
	if err := s.conn.Close(); err != nil {
		logrus.Errorf("failed to disconnect from desk: %v", err)
	}
}

// sessionlessConfig loads the config file without touching the desk.
func sessionlessConfig() (*config.File, error) {
	return config.NewFile(configPath)
}

// confirm asks a y/n question on stdin and defaults to no.
func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
