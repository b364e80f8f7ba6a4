// Package textsearch finds query terms inside book text.
//
// Matching is stem-based: content and query are tokenized, lowercased, and
// Porter-stemmed, then a sliding window finds the minimal spans (at most 500
// characters) containing every distinct query stem. Touching spans merge.
// Results carry a snippet with surrounding context and are cached per
// (library, book, normalized query) with TTL and capacity eviction.
package textsearch
