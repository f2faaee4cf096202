package imagestore

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Credentials is the on-disk object-store configuration.
type Credentials struct {
	AccessKey  string `json:"accessKey"`
	SecretKey  string `json:"secretKey"`
	BucketName string `json:"bucketName"`
	Region     string `json:"region"`
}

// LoadCredentials reads the credentials JSON file.
func LoadCredentials(path string) (Credentials, error) {
	var c Credentials
	b, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("imagestore: read credentials: %w", err)
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("imagestore: parse credentials %s: %w", path, err)
	}
	if c.AccessKey == "" || c.SecretKey == "" || c.BucketName == "" || c.Region == "" {
		return c, fmt.Errorf("imagestore: credentials %s: all four keys are required", path)
	}
	return c, nil
}

// NewClient builds an S3 client from static credentials.
func NewClient(c Credentials) *s3.Client {
	return s3.New(s3.Options{
		Region:      c.Region,
		Credentials: credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, ""),
	})
}
