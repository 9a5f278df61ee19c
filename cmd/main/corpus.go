package main

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/CTAG07/Quill/pkg/markov"
	"github.com/natefinch/atomic"
)

// fallbackCorpus is used when the corpus file cannot be read.
const fallbackCorpus = "Creativity is allowing yourself to make mistakes. " +
	"Art is knowing which ones to keep. Inspiration appears during work. " +
	"The future belongs to those who learn, unlearn, and relearn."

// loadChain returns the chain for this server cycle. A readable snapshot wins
// over the corpus unless the corpus file was modified after it; otherwise the
// corpus (or the fallback text) is tokenized and, when a snapshot path is
// configured, the result is saved there.
func loadChain(cfg *ServerConfig, tokenizer markov.Tokenizer, logger *slog.Logger) (*markov.Chain, error) {
	if cfg.ChainSnapshotPath != "" {
		if corpusNewer(cfg.CorpusPath, cfg.ChainSnapshotPath) {
			logger.Info("Corpus is newer than the chain snapshot, rebuilding", "corpus_path", cfg.CorpusPath, "path", cfg.ChainSnapshotPath)
		} else {
			chain, err := readSnapshot(cfg.ChainSnapshotPath)
			switch {
			case err == nil:
				logger.Info("Loaded chain snapshot in place of the corpus", "path", cfg.ChainSnapshotPath, "corpus_path", cfg.CorpusPath, "states", chain.Len())
				return chain, nil
			case errors.Is(err, os.ErrNotExist):
				logger.Debug("No chain snapshot found, building from corpus", "path", cfg.ChainSnapshotPath)
			default:
				logger.Warn("Ignoring unreadable chain snapshot", "path", cfg.ChainSnapshotPath, "error", err)
			}
		}
	}

	chain, err := buildFromCorpus(cfg.CorpusPath, tokenizer, logger)
	if err != nil {
		return nil, err
	}

	if cfg.ChainSnapshotPath != "" {
		if err = writeSnapshot(cfg.ChainSnapshotPath, chain); err != nil {
			logger.Error("Failed to write chain snapshot", "path", cfg.ChainSnapshotPath, "error", err)
		} else {
			logger.Info("Wrote chain snapshot", "path", cfg.ChainSnapshotPath)
		}
	}
	return chain, nil
}

func buildFromCorpus(path string, tokenizer markov.Tokenizer, logger *slog.Logger) (*markov.Chain, error) {
	file, err := os.Open(path)
	if err != nil {
		logger.Warn("Failed to open corpus, using the built-in fallback text", "path", path, "error", err)
		return markov.BuildChainFromReader(strings.NewReader(fallbackCorpus), tokenizer)
	}
	defer func(file *os.File) {
		_ = file.Close()
	}(file)

	chain, err := markov.BuildChainFromReader(file, tokenizer)
	if err != nil {
		return nil, fmt.Errorf("failed to build chain from %s: %w", path, err)
	}
	if chain.Empty() {
		logger.Warn("Corpus holds fewer than three tokens; local generation will produce no text", "path", path)
	}
	logger.Info("Built chain from corpus", "path", path, "states", chain.Len())
	return chain, nil
}

// corpusNewer reports whether both files exist and the corpus was modified after the snapshot.
func corpusNewer(corpusPath, snapshotPath string) bool {
	corpusInfo, err := os.Stat(corpusPath)
	if err != nil {
		return false
	}
	snapshotInfo, err := os.Stat(snapshotPath)
	if err != nil {
		return false
	}
	return corpusInfo.ModTime().After(snapshotInfo.ModTime())
}

func readSnapshot(path string) (*markov.Chain, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func(file *os.File) {
		_ = file.Close()
	}(file)
	return markov.ImportChain(file)
}

func writeSnapshot(path string, chain *markov.Chain) error {
	var buf bytes.Buffer
	if err := chain.Export(&buf); err != nil {
		return err
	}
	return atomic.WriteFile(path, &buf)
}
