package main

import (
	"rfidprog/mqtt"
	"rfidprog/serial"
)

// Config is the main configuration structure for the RFID programmer
// host.
type Config struct {
	// MQTT broker settings for status publishing
	MQTT mqtt.Config `yaml:"mqtt"`

	// Serial transport settings
	Serial serial.Config `yaml:"serial"`

	// General settings
	ClientID string `yaml:"client_id"`
	LogLevel string `yaml:"log_level"`

	// Port is the serial port name to connect to automatically when
	// it appears, e.g. "/dev/ttyUSB0". Empty disables auto-connect.
	Port string `yaml:"port"`

	// ReaderModel is the registry index of the reader driver.
	ReaderModel int `yaml:"reader_model"`
}
