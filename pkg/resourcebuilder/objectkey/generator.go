package objectkey

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Strategy names accepted by ByName
const (
	StrategyLegacy  = "legacy"
	StrategyGitLike = "git-like"
	StrategyHashed  = "hashed"
)

// Generator defines the interface for object key generation strategies
type Generator interface {
	// GenerateKey creates an object key for a binary property of a node
	GenerateKey(nodeID, binaryID uuid.UUID, metadata *KeyMetadata) string
}

// KeyMetadata contains information that influences key generation
type KeyMetadata struct {
	// Path of the node owning the binary, e.g. "/site/app.js/content"
	Path string
	// FileName is the name of the file node, if the binary belongs to one
	FileName string
	// Property holding the binary
	Property    string
	ContentType string
}

// ByName returns the generator for a strategy name. An empty name selects
// the recommended generator.
func ByName(name string) (Generator, error) {
	switch strings.ToLower(name) {
	case "", StrategyGitLike:
		return NewRecommendedGenerator(), nil
	case StrategyLegacy:
		return NewLegacyGenerator(), nil
	case StrategyHashed:
		return NewHashedGitLikeGenerator(), nil
	default:
		return nil, fmt.Errorf("unknown object key strategy: %s", name)
	}
}

// LegacyGenerator keeps one flat directory per node
type LegacyGenerator struct{}

func NewLegacyGenerator() *LegacyGenerator {
	return &LegacyGenerator{}
}

func (g *LegacyGenerator) GenerateKey(nodeID, binaryID uuid.UUID, metadata *KeyMetadata) string {
	if metadata != nil && metadata.FileName != "" {
		return fmt.Sprintf("R/%s/%s/%s", nodeID, binaryID, sanitizeFilename(metadata.FileName))
	}
	return fmt.Sprintf("R/%s/%s", nodeID, binaryID)
}

// GitLikeGenerator provides Git-style sharded storage
// Layout: binaries/objects/ab/cd1234ef5678_filename
type GitLikeGenerator struct {
	// ShardLength controls how many characters to use for sharding (default: 2)
	ShardLength int
}

func NewGitLikeGenerator() *GitLikeGenerator {
	return &GitLikeGenerator{
		ShardLength: 2,
	}
}

func (g *GitLikeGenerator) GenerateKey(nodeID, binaryID uuid.UUID, metadata *KeyMetadata) string {
	// Shard on the binary ID since it is unique and random
	id := strings.ReplaceAll(binaryID.String(), "-", "")
	return shardedKey(id, g.ShardLength, metadata)
}

// HashedGitLikeGenerator derives the shard from a hash of both IDs, which
// keeps keys deterministic for a given node and binary
type HashedGitLikeGenerator struct {
	ShardLength int
}

func NewHashedGitLikeGenerator() *HashedGitLikeGenerator {
	return &HashedGitLikeGenerator{
		ShardLength: 2,
	}
}

func (g *HashedGitLikeGenerator) GenerateKey(nodeID, binaryID uuid.UUID, metadata *KeyMetadata) string {
	hash := sha256.Sum256([]byte(nodeID.String() + binaryID.String()))
	return shardedKey(fmt.Sprintf("%x", hash)[:32], g.ShardLength, metadata)
}

func shardedKey(id string, shardLength int, metadata *KeyMetadata) string {
	if shardLength <= 0 || shardLength >= len(id) {
		shardLength = 2
	}
	filename := id[shardLength:]
	if metadata != nil && metadata.FileName != "" {
		filename = fmt.Sprintf("%s_%s", filename, sanitizeFilename(metadata.FileName))
	}
	return fmt.Sprintf("binaries/objects/%s/%s", id[:shardLength], filename)
}

// CustomFuncGenerator allows users to provide their own key generation function
type CustomFuncGenerator struct {
	GenerateFunc func(nodeID, binaryID uuid.UUID, metadata *KeyMetadata) string
}

func NewCustomFuncGenerator(fn func(nodeID, binaryID uuid.UUID, metadata *KeyMetadata) string) *CustomFuncGenerator {
	return &CustomFuncGenerator{
		GenerateFunc: fn,
	}
}

func (g *CustomFuncGenerator) GenerateKey(nodeID, binaryID uuid.UUID, metadata *KeyMetadata) string {
	return g.GenerateFunc(nodeID, binaryID, metadata)
}

var filenameReplacer = strings.NewReplacer(
	"/", "_",
	"\\", "_",
	":", "_",
	"*", "_",
	"?", "_",
	"\"", "_",
	"<", "_",
	">", "_",
	"|", "_",
	" ", "_",
)

func sanitizeFilename(filename string) string {
	return filenameReplacer.Replace(filename)
}

// NewRecommendedGenerator returns the recommended generator for new installations
func NewRecommendedGenerator() Generator {
	return NewGitLikeGenerator()
}
