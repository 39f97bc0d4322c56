package util

import (
	"strings"

	"github.com/golang/glog"
	"github.com/spf13/viper"
)

type Configuration interface {
	GetString(key string) string
	GetBool(key string) bool
	GetInt(key string) int
	SetDefault(key string, value interface{})
}

// LoadConfiguration reads an optional toml config file. The tool works with
// built-in defaults when no file is present.
func LoadConfiguration(configFileName string, required bool) (loaded bool) {

	viper.SetConfigName(configFileName)  // name of config file (without extension)
	viper.AddConfigPath(".")             // optionally look for config in the working directory
	viper.AddConfigPath("$HOME/.metafs") // call multiple times to add many search paths
	viper.AddConfigPath("/etc/metafs/")  // path to look for the config file in

	setDefaults()

	if err := viper.MergeInConfig(); err != nil { // Handle errors reading the config file
		if strings.Contains(err.Error(), "Not Found") {
			glog.V(1).Infof("Reading %s: %v", viper.ConfigFileUsed(), err)
		} else {
			glog.Fatalf("Reading %s: %v", viper.ConfigFileUsed(), err)
		}
		if required {
			glog.Fatalf("Failed to load %s.toml file from current directory, or $HOME/.metafs/, or /etc/metafs/", configFileName)
		}
		return false
	}
	glog.V(1).Infof("Reading %s", viper.ConfigFileUsed())
	return true
}

func setDefaults() {
	viper.SetDefault("journal.object_size", 4*1024*1024)
	viper.SetDefault("journal.undump_chunk_size", 1024*1024)
	viper.SetDefault("event.binary_output_dir", "dump/")
}

func GetViper() *viper.Viper {
	return viper.GetViper()
}
