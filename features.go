/*
File: features.go
Version: 1.0.0
Description: Pure feature extraction for observed domains. Deterministic,
             no side effects; consumed by the anomaly engine and the
             threshold controller.
*/

package main

import "math"

// FeatureVector is the fixed-size numeric signal tuple for one domain
// observation.
type FeatureVector struct {
	Entropy    float64 `json:"entropy"`
	Length     float64 `json:"length"`
	DigitRatio float64 `json:"digit_ratio"`
	VowelRatio float64 `json:"vowel_ratio"`
	NonAlnum   float64 `json:"non_alnum"`
}

const featureCount = 5

// asSlice returns the vector in fixed field order.
func (f FeatureVector) asSlice() [featureCount]float64 {
	return [featureCount]float64{f.Entropy, f.Length, f.DigitRatio, f.VowelRatio, f.NonAlnum}
}

// ExtractFeatures computes the feature vector for a domain name. The input
// is canonicalized first so "WWW.Example.COM." and "www.example.com" yield
// identical vectors.
func ExtractFeatures(domain string) FeatureVector {
	d := canonicalDomain(domain)
	if d == "" {
		return FeatureVector{}
	}

	var digits, vowels, nonAlnum int
	for i := 0; i < len(d); i++ {
		c := d[i]
		switch {
		case c >= '0' && c <= '9':
			digits++
		case c == 'a' || c == 'e' || c == 'i' || c == 'o' || c == 'u':
			vowels++
		case c >= 'b' && c <= 'z':
			// consonant
		default:
			nonAlnum++
		}
	}

	n := float64(len(d))
	return FeatureVector{
		Entropy:    calculateEntropy(d),
		Length:     n,
		DigitRatio: float64(digits) / n,
		VowelRatio: float64(vowels) / n,
		NonAlnum:   float64(nonAlnum),
	}
}

// calculateEntropy returns the Shannon entropy of s in bits per byte, using
// a zero-alloc stack array for the byte counts.
func calculateEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}

	var counts [256]int
	for i := 0; i < len(s); i++ {
		counts[s[i]]++
	}

	var entropy float64
	total := float64(len(s))
	for _, count := range counts {
		if count > 0 {
			p := float64(count) / total
			entropy -= p * math.Log2(p)
		}
	}
	return entropy
}
