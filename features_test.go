package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateEntropy(t *testing.T) {
	assert.Equal(t, 0.0, calculateEntropy(""))
	assert.Equal(t, 0.0, calculateEntropy("aaaa"))
	// Two symbols, equally likely.
	assert.InDelta(t, 1.0, calculateEntropy("abab"), 1e-9)
}

func TestExtractFeaturesDeterministic(t *testing.T) {
	a := ExtractFeatures("WWW.Example.COM.")
	b := ExtractFeatures("www.example.com")
	assert.Equal(t, a, b)
}

func TestExtractFeaturesRatios(t *testing.T) {
	fv := ExtractFeatures("a1b2.com")
	assert.Equal(t, 8.0, fv.Length)
	assert.InDelta(t, 0.25, fv.DigitRatio, 1e-9)  // 2 digits of 8
	assert.InDelta(t, 0.25, fv.VowelRatio, 1e-9)  // a, o
	assert.Equal(t, 1.0, fv.NonAlnum)             // the dot
	assert.Greater(t, fv.Entropy, 0.0)
}

func TestExtractFeaturesEmpty(t *testing.T) {
	assert.Equal(t, FeatureVector{}, ExtractFeatures(""))
	assert.Equal(t, FeatureVector{}, ExtractFeatures("."))
}
