// # Go Client Package for the World's End live trial
//
// This package runs the live half of the "judge humanity" trial: a bidirectional Gemini Live session that streams microphone audio and periodic camera frames to the arbiter, plays its spoken replies without gaps, and applies the update_game_state tool calls it issues to the shared game state. Losing the live link never ends the trial; text turns remain available through the judge package.
package live
