// Package conversation processes recordings into the conversation library
// and maintains the records it holds.
//
// Library layout, relative to the FileStore root:
//
//	processed_conversations/conversation_<ts>/
//	    original_audio.<ext>
//	    metadata.json                 Manifest
//	    transcript.txt                "[Speaker HH:MM:SS-HH:MM:SS]: text"
//	    utterances/utterance_NNN.wav
//	    speakers/<key>/utterance_NNN.wav
//	speaker_utterances/<Speaker>/<conversation>_utterance_<i>.wav|.txt
//	transcript_<ts>.txt               "Speaker: text"
//
// The last two are the older flat layout, still written so existing
// consumers keep working.
package conversation
