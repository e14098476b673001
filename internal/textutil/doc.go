// Package textutil provides token-based text fingerprinting and similarity
// scoring, used to spot near-duplicate social posts before they become
// review rows.
//
// Fingerprints are term-frequency vectors. Tokenization strips @mentions and
// URLs (quote-posts and copypasta differ mostly in those), lowercases the
// rest, splits on non-alphanumeric runs, and drops tokens shorter than 3
// characters.
package textutil
