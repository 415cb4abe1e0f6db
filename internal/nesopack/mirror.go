package nesopack

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// MirrorClient wraps an S3-compatible client for the source mirror.
type MirrorClient struct {
	Client     *s3.Client
	BucketName string
}

// NewMirrorClient initializes the mirror client from configuration
// values (any S3-compatible endpoint: R2, MinIO, AWS).
func NewMirrorClient(cfg *Config) (*MirrorClient, error) {
	if err := requireMirrorConfig(cfg); err != nil {
		return nil, err
	}
	endpoint := mirrorSetting(cfg, "MIRROR_ENDPOINT")
	accessKey := mirrorSetting(cfg, "MIRROR_ACCESS_KEY_ID")
	secretKey := mirrorSetting(cfg, "MIRROR_SECRET_ACCESS_KEY")
	bucketName := mirrorSetting(cfg, "MIRROR_BUCKET")
	region := mirrorSetting(cfg, "MIRROR_REGION")
	if region == "" {
		region = "auto"
	}

	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{URL: endpoint}, nil
	})

	options := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithEndpointResolverWithOptions(resolver),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		awsconfig.WithRegion(region),
	}
	if Debug {
		options = append(options, awsconfig.WithClientLogMode(aws.LogSigning|aws.LogRetries|aws.LogRequest|aws.LogResponse))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(), options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load mirror config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	return &MirrorClient{Client: client, BucketName: bucketName}, nil
}

// Exists checks whether a key is already on the mirror.
func (m *MirrorClient) Exists(ctx context.Context, key string) (bool, error) {
	_, err := m.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(m.BucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *s3types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		// Treat any lookup failure as absent; the subsequent upload will
		// surface real connectivity problems.
		debugf("head %s: %v\n", key, err)
		return false, nil
	}
	return true, nil
}

// UploadFile pushes a local file to the mirror.
func (m *MirrorClient) UploadFile(ctx context.Context, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = m.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.BucketName),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// DownloadFile fetches a key from the mirror into a local path.
func (m *MirrorClient) DownloadFile(ctx context.Context, key, dest string) error {
	output, err := m.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.BucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("mirror get %s: %w", key, err)
	}
	defer output.Body.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp := dest + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, output.Body)
	closeErr := f.Close()
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if closeErr != nil {
		_ = os.Remove(tmp)
		return closeErr
	}
	return os.Rename(tmp, dest)
}

// handleMirrorCommand implements 'nesopack mirror push' and
// 'nesopack mirror pull <pkg>'.
func handleMirrorCommand(ctx context.Context, args []string, cfg *Config) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: nesopack mirror <push|pull> [pkg]")
	}
	m, err := NewMirrorClient(cfg)
	if err != nil {
		return err
	}

	switch args[0] {
	case "push":
		return mirrorPush(ctx, m)
	case "pull":
		if len(args) < 2 {
			return fmt.Errorf("usage: nesopack mirror pull <pkg>")
		}
		return mirrorPull(ctx, m, args[1], cfg)
	default:
		return fmt.Errorf("unknown mirror subcommand %q", args[0])
	}
}

// mirrorPush uploads every cached source archive missing from the
// mirror, keyed <pkg>/<filename>.
func mirrorPush(ctx context.Context, m *MirrorClient) error {
	colArrow.Print("-> ")
	colSuccess.Printf("Scanning local sources in %s\n", SourcesDir)

	var keys []string
	local := make(map[string]string)
	pkgDirs, err := os.ReadDir(SourcesDir)
	if err != nil {
		return fmt.Errorf("no local sources to push: %w", err)
	}
	for _, pd := range pkgDirs {
		if !pd.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(SourcesDir, pd.Name()))
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() || strings.HasSuffix(f.Name(), ".b3") ||
				strings.HasSuffix(f.Name(), ".lock") || strings.HasSuffix(f.Name(), ".part") {
				continue
			}
			key := pd.Name() + "/" + f.Name()
			keys = append(keys, key)
			local[key] = filepath.Join(SourcesDir, pd.Name(), f.Name())
		}
	}
	sort.Strings(keys)

	uploaded := 0
	for _, key := range keys {
		exists, err := m.Exists(ctx, key)
		if err != nil {
			return err
		}
		if exists {
			debugf("already mirrored: %s\n", key)
			continue
		}
		colArrow.Print("-> ")
		colSuccess.Printf("Uploading %s\n", key)
		if err := m.UploadFile(ctx, key, local[key]); err != nil {
			return err
		}
		uploaded++
	}
	colArrow.Print("-> ")
	colSuccess.Printf("Mirror push complete: %d new file(s)\n", uploaded)
	return nil
}

// mirrorPull fetches a recipe's archives from the mirror instead of the
// upstream, then verifies them.
func mirrorPull(ctx context.Context, m *MirrorClient, pkg string, cfg *Config) error {
	set, err := loadRecipeSet(cfg)
	if err != nil {
		return err
	}
	recipe, err := set.Find(pkg)
	if err != nil {
		return err
	}

	pulled := 0
	for i := range recipe.Versions {
		rv := &recipe.Versions[i]
		url := recipe.SourceURL(rv)
		if url == "" {
			continue
		}
		name := filepath.Base(url)
		dest := filepath.Join(SourcesDir, recipe.Name, name)
		if _, err := os.Stat(dest); err == nil {
			continue
		}
		colArrow.Print("-> ")
		colSuccess.Printf("Pulling %s/%s from mirror\n", recipe.Name, name)
		if err := m.DownloadFile(ctx, recipe.Name+"/"+name, dest); err != nil {
			return err
		}
		if err := verifyArchive(dest, rv.SHA256); err != nil {
			return err
		}
		pulled++
	}
	colArrow.Print("-> ")
	colSuccess.Printf("Mirror pull complete: %d file(s)\n", pulled)
	return nil
}
