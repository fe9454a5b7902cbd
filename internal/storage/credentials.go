package storage

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Credentials is a static S3 key pair, loadable from a YAML file carrying
// aws_access_key_id and aws_secret_access_key keys.
type Credentials struct {
	AccessKeyID     string `yaml:"aws_access_key_id"`
	SecretAccessKey string `yaml:"aws_secret_access_key"`
}

func LoadCredentialsFile(path string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to read credentials file %s: %w", path, err)
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return Credentials{}, fmt.Errorf("failed to parse credentials file %s: %w", path, err)
	}

	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return Credentials{}, fmt.Errorf("credentials file %s is missing aws_access_key_id or aws_secret_access_key", path)
	}
	return creds, nil
}
