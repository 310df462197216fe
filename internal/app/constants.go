package app

// PlayersPerGame is the number of seats; the game starts once all are taken.
const PlayersPerGame = 2
