// Package config loads and watches the syncbridge configuration file.
//
// Configuration is read with viper from a YAML file named
// syncbridge.yaml, looked up in /etc/syncbridge, $HOME/.syncbridge, the
// working directory and the executable directory, unless an explicit
// path is given. Every engine tunable carries a default so an empty
// file is a valid configuration.
package config
