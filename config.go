package main

import (
	"fmt"
	"os"
	"reflect"
	"slices"
	"strings"

	"github.com/utilitywarehouse/gitlab-mirror/repopool"
	"github.com/utilitywarehouse/gitlab-mirror/repository"
	"gopkg.in/yaml.v3"
)

func parseConfigFile(path string) (*repopool.Config, error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	err = validateConfig(yamlFile)
	if err != nil {
		return nil, err
	}

	conf := &repopool.Config{}
	err = yaml.Unmarshal(yamlFile, conf)
	if err != nil {
		return nil, err
	}

	return conf, nil
}

// validateConfig checks config file for unexpected keys so that typos are
// not silently ignored
func validateConfig(yamlData []byte) error {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(yamlData, &raw); err != nil {
		return err
	}

	// empty file is a valid config
	if raw == nil {
		return nil
	}

	allowedConfig := getAllowedKeys(repopool.Config{})
	if key := findUnexpectedKey(raw, allowedConfig); key != "" {
		return fmt.Errorf("unexpected key: .%v", key)
	}

	// check "source" and "backup" sections
	allowedRemote := getAllowedKeys(repopool.Remote{})
	for _, section := range []string{"source", "backup"} {
		v, ok := raw[section]
		if !ok || v == nil {
			continue
		}
		remoteMap, ok := v.(map[string]interface{})
		if !ok {
			return fmt.Errorf("%s config section is not valid", section)
		}
		if key := findUnexpectedKey(remoteMap, allowedRemote); key != "" {
			return fmt.Errorf("unexpected key: .%s.%v", section, key)
		}
	}

	// check "auth" section
	if v, ok := raw["auth"]; ok && v != nil {
		authMap, ok := v.(map[string]interface{})
		if !ok {
			return fmt.Errorf("auth config section is not valid")
		}
		allowedAuthKeys := getAllowedKeys(repository.Auth{})
		if key := findUnexpectedKey(authMap, allowedAuthKeys); key != "" {
			return fmt.Errorf("unexpected key: .auth.%v", key)
		}
	}

	return nil
}

// getAllowedKeys retrieves a list of allowed keys from the specified struct
func getAllowedKeys(config interface{}) []string {
	var allowedKeys []string
	val := reflect.ValueOf(config)
	typ := reflect.TypeOf(config)

	for i := 0; i < val.NumField(); i++ {
		field := typ.Field(i)
		yamlTag, _, _ := strings.Cut(field.Tag.Get("yaml"), ",")
		if yamlTag != "" && yamlTag != "-" {
			allowedKeys = append(allowedKeys, yamlTag)
		}
	}
	return allowedKeys
}

func findUnexpectedKey(raw interface{}, allowedKeys []string) string {
	keys := make([]string, 0, len(raw.(map[string]interface{})))
	for key := range raw.(map[string]interface{}) {
		keys = append(keys, key)
	}
	// sorted for stable error messages
	slices.Sort(keys)

	for _, key := range keys {
		if !slices.Contains(allowedKeys, key) {
			return key
		}
	}

	return ""
}
