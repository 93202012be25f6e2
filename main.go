// Copyright 2025 Palisade Chain
//
// Node binary: wires the auth, consensus, executor, chain and snapshot
// subsystems over the message bus and runs them until interrupted.

package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/palisade-chain/palisade/pkg/auth"
	"github.com/palisade-chain/palisade/pkg/bus"
	"github.com/palisade-chain/palisade/pkg/chain"
	"github.com/palisade-chain/palisade/pkg/config"
	"github.com/palisade-chain/palisade/pkg/consensus"
	"github.com/palisade-chain/palisade/pkg/executor"
	"github.com/palisade-chain/palisade/pkg/kvdb"
	"github.com/palisade-chain/palisade/pkg/mempool"
	"github.com/palisade-chain/palisade/pkg/metrics"
	"github.com/palisade-chain/palisade/pkg/snapshot"
	"github.com/palisade-chain/palisade/pkg/trie"
	"github.com/palisade-chain/palisade/pkg/verifier"
)

// Version is set at build time via ldflags:
// go build -ldflags "-X main.Version=v1.0.0"
var Version = "v0.1.0-dev"

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	stdout := flag.Bool("stdout", false, "log to stdout instead of stderr")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Println(Version)
		os.Exit(0)
	}
	if *stdout {
		log.SetOutput(os.Stdout)
	}

	if err := run(*configPath); err != nil {
		log.Printf("[NODE] fatal: %v", err)
		os.Exit(1)
	}
	os.Exit(0)
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	if cfg.WALPath == "" {
		cfg.WALPath = filepath.Join(cfg.DataDir, "mempool", "admit.wal")
	}
	if cfg.FilterWALPath == "" {
		cfg.FilterWALPath = filepath.Join(cfg.DataDir, "mempool", "filter.wal")
	}

	db, err := kvdb.Open("chaindata", cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	b := bus.NewInProc()
	defer b.Close()

	nodeDB := trie.NewNodeDB(db.Column(kvdb.ColState))
	exec := executor.New(cfg, nodeDB)

	signerKey, signerAddr, err := loadSigner(cfg)
	if err != nil {
		return err
	}

	genesis := executor.GenesisFromConfig(cfg, signerAddr)
	bc, err := chain.New(cfg, db, exec, b, genesis)
	if err != nil {
		return fmt.Errorf("open chain: %w", err)
	}

	v := verifier.New(cfg, func(low, high uint64) {
		for h := low; h < high; h++ {
			enc, _ := rlp.EncodeToBytes(h)
			b.Publish(bus.TopicBlockTxHashesReq, enc)
		}
	})
	if blockQuota, accountQuota, err := bc.QuotaLimits(); err == nil {
		v.SetQuotaLimits(blockQuota, accountQuota)
	}

	mp, err := mempool.New(cfg, b)
	if err != nil {
		return fmt.Errorf("open mempool: %w", err)
	}
	if _, err := mp.Replay(); err != nil {
		return fmt.Errorf("mempool wal replay: %w", err)
	}
	mp.Start()
	defer mp.Stop()

	authService := auth.New(cfg, v, mp, b)
	authService.Start()
	defer authService.Stop()

	engine, err := consensus.New(cfg, bc, mp, b, signerKey)
	if err != nil {
		return fmt.Errorf("consensus: %w", err)
	}
	engine.Start()
	defer engine.Stop()

	sync := chain.NewSynchronizer(bc, b, cfg.SyncWindow, engine.IsConsensing)
	startSyncLoops(b, bc, sync)

	snap := snapshot.NewService(bc, nodeDB, b, authService, engine)
	snap.Run()
	defer snap.Stop()

	metrics.Serve(cfg.MetricsAddr)
	log.Printf("[NODE] started: chain_id=%d height=%d validator=%s",
		cfg.ChainID, bc.CurrentHeader().Number, signerAddr.Hex())

	// prime the duplicate window from the committed heights up to the tip
	primeWindow(bc, b)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Printf("[NODE] shutting down")
	return nil
}

// loadSigner parses the configured validator key, generating an ephemeral
// one for observer nodes.
func loadSigner(cfg *config.Config) ([]byte, common.Address, error) {
	if cfg.SignerKey == "" {
		priv, err := crypto.GenerateKey()
		if err != nil {
			return nil, common.Address{}, err
		}
		return crypto.FromECDSA(priv), crypto.PubkeyToAddress(priv.PublicKey), nil
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(cfg.SignerKey, "0x"))
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("signer key: %w", err)
	}
	priv, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("signer key: %w", err)
	}
	return raw, crypto.PubkeyToAddress(priv.PublicKey), nil
}

// startSyncLoops services the synchronizer topics.
func startSyncLoops(b bus.Bus, bc *chain.BlockChain, sync *chain.Synchronizer) {
	reqCh, _ := b.Subscribe(bus.TopicSyncRequest)
	respCh, _ := b.Subscribe(bus.TopicSyncResponse)
	hashReqCh, _ := b.Subscribe(bus.TopicBlockTxHashesReq)
	go func() {
		for {
			select {
			case msg, ok := <-reqCh:
				if !ok {
					return
				}
				var req chain.SyncRequest
				if err := rlp.DecodeBytes(msg.Payload, &req); err == nil {
					sync.ServeSyncRequest(&req)
				}
			case msg, ok := <-respCh:
				if !ok {
					return
				}
				var resp chain.SyncResponse
				if err := rlp.DecodeBytes(msg.Payload, &resp); err == nil {
					sync.OnSyncResponse(&resp)
				}
			case msg, ok := <-hashReqCh:
				if !ok {
					return
				}
				var height uint64
				if err := rlp.DecodeBytes(msg.Payload, &height); err == nil {
					if err := bc.PublishTxHashesAt(height); err != nil {
						log.Printf("[NODE] tx hashes re-send for %d failed: %v", height, err)
					}
				}
			}
		}
	}()
}

// primeWindow replays recent committed heights into the duplicate window.
func primeWindow(bc *chain.BlockChain, b bus.Bus) {
	tip := bc.CurrentHeader().Number
	low := uint64(0)
	if tip >= config.BlockLimit {
		low = tip - config.BlockLimit + 1
	}
	for h := low; h <= tip; h++ {
		if err := bc.PublishTxHashesAt(h); err != nil {
			log.Printf("[NODE] priming duplicate window at %d failed: %v", h, err)
			return
		}
	}
}
