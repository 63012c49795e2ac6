// Package browser drives a single browser page for an authentication run.
//
// Steps never touch Playwright directly. They work against the Page
// interface, which PlaywrightPage implements on top of playwright-go and
// browsertest.FakePage implements in memory for tests.
//
// # Lifecycle
//
//  1. Launcher.Initialize installs (optionally) and starts the Playwright driver
//  2. Launcher.Launch opens a browser, an isolated context and one page,
//     routed through the run's proxy when one is configured
//  3. Page.Close releases the page, its context and its browser
//  4. Launcher.Shutdown stops the driver
//
// # Locating elements
//
// The target UI changes often, so every element is described by an ordered
// list of selector strategies. FirstVisible returns the first strategy that
// currently matches a visible element.
//
// # Human cadence
//
// Humanizer randomizes keystroke delays, pauses between fields and click
// jitter. All waits honor context cancellation.
package browser
