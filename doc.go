// Package quackd implements a simulated B92 quantum key distribution
// exchange: sifting of measurement histograms into a raw key, Cascade error
// reconciliation, and a keychain ledger of agreed keys per party pair.
//
// The package offers:
//   - Block-wise circuit preparation and B92 sifting over shot histograms
//   - Optional readout error mitigation with calibration matrices (gonum)
//   - Cascade reconciliation with seeded permutations and binary search
//   - A concurrent keychain with SHA3-512 digest validation
//   - Ledger persistence to an atomic JSON file or LevelDB
//   - A deterministic in-process backend for tests and trials
//   - Prometheus metrics and OpenTelemetry spans per exchange
//
// # Quick Start
//
// Run one exchange against the built-in simulator:
//
//	cfg := quackd.DefaultConfig()
//	kc := quackd.NewKeyChain()
//	ex, err := quackd.NewExchanger(cfg, cfg.NewSimulator(), kc)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	result, err := ex.Run(ctx, quackd.ExchangeRequest{
//		Source:  "alice",
//		Dest:    "bob",
//		Members: []string{"bob"},
//		RawKey:  quackd.RawKeyFromPassphrase("correct horse", cfg.KeyInitSize),
//	}, quackd.NewProgressBar(quackd.ExchangeCheckpoints))
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(result.SentKey, result.ReceivedKey)
//
// # Sifting
//
// The sender string is split into blocks of BlockSize bits. Each block is one
// circuit whose qubit r carries sender bit r and is measured in the receiver's
// basis r. The receiver learns bit r only when the marginal probability of
// outcome '1' on qubit r exceeds the threshold (0.3 by default); the learned
// bit is 1 for the rectilinear basis and 0 for the diagonal basis. Histogram
// keys are written most significant qubit first, so qubit r is character
// width-1-r of each key.
//
// # Reconciliation
//
// Cascade runs a fixed number of iterations. Iteration i permutes both keys
// with a permutation seeded by i, compares block parities with block size
// floor(0.73/Q * 2^i) capped at the key length, and corrects one error per
// disagreeing block by binary search. Every parity comparison is counted as
// disclosed information.
//
// # Keychain
//
// The keychain maps host -> (source, dest) -> key with an enrollment time.
// Reads return copies. When a store is configured every enrollment is
// persisted; storage failures are logged and never fail an enrollment.
//
//	kc := quackd.NewKeyChain(quackd.WithStore(quackd.NewFileStore("keychain.json")))
//	if err := kc.Load(); err != nil {
//		log.Fatal(err)
//	}
//	defer kc.Close()
//
//	v := kc.Validate(quackd.Digest(key), "alice", "bob")
//	fmt.Println(v.Match, v.Given, v.Stored)
//
// # Error Handling
//
// Errors wrap sentinels built with github.com/agilira/go-errors, so both
// errors.Is and the rich error codes work:
//
//	_, err := sifter.Sift(ctx, sender, bases, src)
//	if errors.Is(err, quackd.ErrLengthMismatch) {
//		// sender and bases differ in length, nothing was executed
//	}
//
// # Security Considerations
//
// This is a teaching system. The simulator has no eavesdropper, the classical
// channel is unauthenticated and no privacy amplification is applied, so the
// parity bits disclosed by Cascade leak key material.
package quackd
