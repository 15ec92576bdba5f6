// FILE: indicators.go
// Package main – Indicator math over []Bar used by the shipped strategies.
//
// All functions read closes only and return 0 when the window is not yet
// filled; strategies treat that as "still warming up".

package main

// smaBars returns the simple moving average of the last n closes.
func smaBars(bars []Bar, n int) float64 {
	if n <= 0 || len(bars) < n {
		return 0
	}
	sum := 0.0
	for _, b := range bars[len(bars)-n:] {
		sum += b.Close
	}
	return sum / float64(n)
}

// emaBars returns the exponential moving average of the last n closes,
// seeded with the SMA of the first n.
func emaBars(bars []Bar, n int) float64 {
	if n <= 0 || len(bars) < n {
		return 0
	}
	ema := smaBars(bars[:n], n)
	k := 2.0 / (float64(n) + 1.0)
	for _, b := range bars[n:] {
		ema = b.Close*k + ema*(1.0-k)
	}
	return ema
}

// lookbackReturn is the fractional price change over the last n bars.
// Returns 0 while warming up or when the reference close is non-positive.
func lookbackReturn(bars []Bar, n int) float64 {
	if n <= 0 || len(bars) < n+1 {
		return 0
	}
	ref := bars[len(bars)-1-n].Close
	if ref <= 0 {
		return 0
	}
	return (bars[len(bars)-1].Close - ref) / ref
}

// rsiBars returns the n-period RSI (Wilder smoothing) of the closes, or 0
// while warming up.
func rsiBars(bars []Bar, n int) float64 {
	if n <= 0 || len(bars) < n+1 {
		return 0
	}
	var gain, loss float64
	for i := 1; i <= n; i++ {
		d := bars[i].Close - bars[i-1].Close
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain := gain / float64(n)
	avgLoss := loss / float64(n)
	for i := n + 1; i < len(bars); i++ {
		d := bars[i].Close - bars[i-1].Close
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		avgGain = (avgGain*float64(n-1) + g) / float64(n)
		avgLoss = (avgLoss*float64(n-1) + l) / float64(n)
	}
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}
